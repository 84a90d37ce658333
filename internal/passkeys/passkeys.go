// Package passkeys flattens credential containers into passkey records.
package passkeys

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"

	"kcsession/internal/accountapi"
)

// NoTransports is rendered when a credential lists no transports.
const NoTransports = "—"

type Passkey struct {
	ID         string     `json:"id" yaml:"id"`
	UserLabel  string     `json:"userLabel" yaml:"userLabel"`
	CreatedAt  *time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	Provider   string     `json:"provider,omitempty" yaml:"provider,omitempty"`
	Transports string     `json:"transports" yaml:"transports"`
}

// Field lookups tolerate a nested credential object, metadata-wrapped
// fields, and plain top-level fields, in that order.
var (
	idExpr         = jmespath.MustCompile("credential.id || credentialId || id")
	labelExpr      = jmespath.MustCompile("credential.userLabel || userLabel")
	createdExpr    = jmespath.MustCompile("credential.createdDate || createdDate")
	transportsExpr = jmespath.MustCompile("credential.transports || transports")
)

var passkeyMarkers = []string{"webauthn", "passwordless", "passkey"}

// IsPasskeyContainer matches type or category case-insensitively.
func IsPasskeyContainer(typ, category string) bool {
	t, c := strings.ToLower(typ), strings.ToLower(category)
	for _, m := range passkeyMarkers {
		if strings.Contains(t, m) || strings.Contains(c, m) {
			return true
		}
	}
	return false
}

// Enabled reports whether the realm offers any passkey-capable container.
func Enabled(containers []accountapi.CredentialContainer) bool {
	for _, c := range containers {
		if IsPasskeyContainer(c.Type, c.Category) {
			return true
		}
	}
	return false
}

// Extract returns one record per credential found in passkey containers.
// Credentials without an id are skipped. defaultLabel is used when neither
// the credential nor its container has a label.
func Extract(containers []accountapi.CredentialContainer, defaultLabel string) []Passkey {
	out := []Passkey{}
	for _, c := range containers {
		if !IsPasskeyContainer(c.Type, c.Category) {
			continue
		}
		items := c.UserCredentialMetadatas
		if items == nil {
			items = c.UserCredentials
		}
		for _, item := range items {
			if p, ok := fromItem(item, c.DisplayName, defaultLabel); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func fromItem(item any, containerName, defaultLabel string) (Passkey, bool) {
	id := searchString(idExpr, item)
	if id == "" {
		return Passkey{}, false
	}
	label := searchString(labelExpr, item)
	if label == "" {
		label = containerName
	}
	if label == "" {
		label = defaultLabel
	}
	provider := containerName
	if label != defaultLabel {
		provider = label
	}
	p := Passkey{
		ID:         id,
		UserLabel:  label,
		Provider:   provider,
		Transports: formatTransports(search(transportsExpr, item)),
	}
	if ms, ok := search(createdExpr, item).(float64); ok {
		t := time.UnixMilli(int64(ms)).UTC()
		p.CreatedAt = &t
	}
	return p, true
}

func search(expr *jmespath.JMESPath, item any) any {
	v, err := expr.Search(item)
	if err != nil {
		return nil
	}
	return v
}

func searchString(expr *jmespath.JMESPath, item any) string {
	switch v := search(expr, item).(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// formatTransports joins a transports list, or the displayNameProperties of
// a transports object.
func formatTransports(v any) string {
	var list []any
	switch t := v.(type) {
	case []any:
		list = t
	case map[string]any:
		list, _ = t["displayNameProperties"].([]any)
	}
	parts := make([]string, 0, len(list))
	for _, x := range list {
		if s, ok := x.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return NoTransports
	}
	return strings.Join(parts, ", ")
}
