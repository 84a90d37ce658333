package accountapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
)

const maxBody = 4 << 20

// IsJSON reports a 2xx response declaring a JSON content type. Error pages
// rendered as HTML fail this check.
func IsJSON(resp *http.Response) bool {
	if resp == nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/json" || (len(mt) > 5 && mt[len(mt)-5:] == "+json")
}

// DecodeJSON decodes a JSON response into v and closes the body. It returns
// false for non-2xx, non-JSON or malformed responses.
func DecodeJSON(resp *http.Response, v any) bool {
	if resp == nil {
		return false
	}
	defer drain(resp)
	if !IsJSON(resp) {
		return false
	}
	return json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(v) == nil
}

// DrainBody reads and closes the body, returning what it read.
func DrainBody(resp *http.Response) []byte {
	if resp == nil || resp.Body == nil {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return b
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	_ = resp.Body.Close()
}

// Consent lists the scopes a user granted an application.
type Consent struct {
	GrantedScopes []Scope `json:"grantedScopes,omitempty"`
}

type Scope struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Application is an authorized client as shown on the applications page.
type Application struct {
	ClientID            string   `json:"clientId"`
	ClientName          string   `json:"clientName,omitempty"`
	ID                  string   `json:"id,omitempty"`
	EffectiveURL        string   `json:"effectiveUrl,omitempty"`
	UserConsentRequired bool     `json:"userConsentRequired"`
	Consent             *Consent `json:"consent,omitempty"`
}

type rawApplication struct {
	ClientID            string   `json:"clientId"`
	ClientName          string   `json:"clientName"`
	Name                string   `json:"name"`
	ID                  string   `json:"id"`
	EffectiveURL        string   `json:"effectiveUrl"`
	UserConsentRequired bool     `json:"userConsentRequired"`
	Consent             *Consent `json:"consent"`
}

// DecodeApplications returns the authorized applications, dropping entries
// without a clientId. Failures yield an empty, non-nil list.
func DecodeApplications(resp *http.Response) []Application {
	var raw []json.RawMessage
	if !DecodeJSON(resp, &raw) {
		return []Application{}
	}
	out := make([]Application, 0, len(raw))
	for _, r := range raw {
		var a rawApplication
		if json.Unmarshal(r, &a) != nil || a.ClientID == "" {
			continue
		}
		name := a.ClientName
		if name == "" {
			name = a.Name
		}
		out = append(out, Application{
			ClientID:            a.ClientID,
			ClientName:          name,
			ID:                  a.ID,
			EffectiveURL:        a.EffectiveURL,
			UserConsentRequired: a.UserConsentRequired,
			Consent:             a.Consent,
		})
	}
	return out
}

// CredentialContainer groups a user's credentials of one type. Items keep
// their server shape; the passkey normalizer flattens them.
type CredentialContainer struct {
	Type                    string `json:"type,omitempty"`
	Category                string `json:"category,omitempty"`
	DisplayName             string `json:"displayName,omitempty"`
	UserCredentialMetadatas []any  `json:"userCredentialMetadatas,omitempty"`
	UserCredentials         []any  `json:"userCredentials,omitempty"`
}

// DecodeCredentials returns the credential containers, promoting a single
// object to a one-element list. ok is false when the response is unusable.
func DecodeCredentials(resp *http.Response) (containers []CredentialContainer, ok bool) {
	var raw json.RawMessage
	if !DecodeJSON(resp, &raw) {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var one CredentialContainer
		if json.Unmarshal(raw, &one) != nil {
			return nil, false
		}
		return []CredentialContainer{one}, true
	}
	if err := json.Unmarshal(raw, &containers); err != nil {
		return nil, false
	}
	if containers == nil {
		containers = []CredentialContainer{}
	}
	return containers, true
}

// DecodeProfile returns the account representation as a generic map, or nil.
func DecodeProfile(resp *http.Response) map[string]any {
	var profile map[string]any
	if !DecodeJSON(resp, &profile) {
		return nil
	}
	return profile
}
