// Package pagectx holds the context the identity server renders into an
// account page, plus the inline fixtures used in preview mode.
package pagectx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"kcsession/internal/accountapi"
	"kcsession/internal/environment"
	"kcsession/internal/orchestrator"
	"kcsession/internal/passkeys"
	"kcsession/internal/profile"
)

type PageContext struct {
	AccountURL  string        `json:"accountUrl"`
	ResourceURL string        `json:"resourceUrl"`
	BasePathURL string        `json:"basePathUrl"`
	Locale      string        `json:"locale"`
	Realm       profile.Realm `json:"realm"`
	realmSet    bool

	// Fixtures, only read when the tenant cannot be resolved.
	Profile      ProfileFixture           `json:"profile"`
	MockPasskeys []passkeys.Passkey       `json:"mockPasskeys"`
	Messages     map[string]string        `json:"messages"`
	Applications []accountapi.Application `json:"applications"`
}

type ProfileFixture struct {
	AttributesByName map[string]profile.Attribute `json:"attributesByName"`
}

// Load reads a page context file. Files ending in .json are decoded as JSON,
// anything else as YAML.
func Load(path string) (PageContext, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PageContext{}, fmt.Errorf("read page context: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(b)
	}
	return ParseYAML(b)
}

func ParseJSON(b []byte) (PageContext, error) {
	var pc PageContext
	if err := json.Unmarshal(b, &pc); err != nil {
		return PageContext{}, fmt.Errorf("decode page context: %w", err)
	}
	return pc, nil
}

// ParseYAML goes through a generic document so the JSON field names apply
// to YAML files too.
func ParseYAML(b []byte) (PageContext, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return PageContext{}, fmt.Errorf("decode page context: %w", err)
	}
	if doc == nil {
		return PageContext{}, nil
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return PageContext{}, fmt.Errorf("decode page context: %w", err)
	}
	return ParseJSON(j)
}

// Environment resolves the tenant the page belongs to.
func (pc PageContext) Environment(opts ...environment.Option) (environment.Environment, bool) {
	if pc.AccountURL == "" {
		return environment.Environment{}, false
	}
	if pc.BasePathURL != "" {
		opts = append(opts, environment.WithBasePathURL(pc.BasePathURL))
	}
	if pc.ResourceURL != "" {
		opts = append(opts, environment.WithResourceURL(pc.ResourceURL))
	}
	return environment.Resolve(pc.AccountURL, opts...)
}

// FallbackAttributes returns the server-rendered attributes used when the
// live profile is unavailable.
func (pc PageContext) FallbackAttributes() map[string]profile.Attribute {
	return pc.Profile.AttributesByName
}

// FixtureData is the account data served without a network call. Profile
// and Credentials stay nil; the fixture profile is read through
// FallbackAttributes.
func (pc PageContext) FixtureData() orchestrator.AccountData {
	data := orchestrator.AccountData{Messages: map[string]string{}, Applications: []accountapi.Application{}}
	for k, v := range pc.Messages {
		data.Messages[k] = v
	}
	data.Applications = append(data.Applications, pc.Applications...)
	return data
}

// Passkeys returns the mock passkeys, never nil.
func (pc PageContext) Passkeys() []passkeys.Passkey {
	out := make([]passkeys.Passkey, 0, len(pc.MockPasskeys))
	for _, p := range pc.MockPasskeys {
		if p.Transports == "" {
			p.Transports = passkeys.NoTransports
		}
		out = append(out, p)
	}
	return out
}

// Merge overlays the non-empty page fields of other onto pc. Fixtures stay
// those of pc.
func (pc PageContext) Merge(other PageContext) PageContext {
	if other.AccountURL != "" {
		pc.AccountURL = other.AccountURL
	}
	if other.ResourceURL != "" {
		pc.ResourceURL = other.ResourceURL
	}
	if other.BasePathURL != "" {
		pc.BasePathURL = other.BasePathURL
	}
	if other.Locale != "" {
		pc.Locale = other.Locale
	}
	if other.realmSet {
		pc.Realm = other.Realm
	}
	return pc
}

// WithRealm marks the realm settings as explicitly given so Merge applies
// them even when they are all false.
func (pc PageContext) WithRealm(r profile.Realm) PageContext {
	pc.Realm, pc.realmSet = r, true
	return pc
}
