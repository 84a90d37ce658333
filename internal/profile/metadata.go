// Package profile turns the account representation and its user-profile
// metadata into form attributes, and form submissions back into a user
// representation.
package profile

import (
	"bytes"
	"encoding/json"
	"slices"
)

// Metadata is the userProfileMetadata block of the account representation.
type Metadata struct {
	Attributes []AttributeMetadata `json:"attributes"`
	Groups     []GroupMetadata     `json:"groups"`
}

type GroupMetadata struct {
	Name               string `json:"name"`
	DisplayHeader      string `json:"displayHeader,omitempty"`
	DisplayDescription string `json:"displayDescription,omitempty"`
}

type AttributeMetadata struct {
	Name         string                    `json:"name"`
	DisplayName  string                    `json:"displayName"`
	Required     Required                  `json:"required"`
	Requirements *Requirements             `json:"requirements"`
	ReadOnly     bool                      `json:"readOnly"`
	Group        string                    `json:"group"`
	Annotations  map[string]any            `json:"annotations"`
	Validators   map[string]map[string]any `json:"validators"`
	Validations  map[string]map[string]any `json:"validations"`
	Multivalued  bool                      `json:"multivalued"`
	DefaultValue string                    `json:"defaultValue"`
}

type Requirements struct {
	Always bool     `json:"always"`
	Roles  []string `json:"roles"`
	Scopes []string `json:"scopes"`
}

// Required accepts either a boolean or an object carrying roles.
type Required struct {
	Flag  bool
	Roles []string
}

func (r *Required) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*r = Required{}
		return nil
	case len(b) > 0 && b[0] == '{':
		var obj struct {
			Roles []string `json:"roles"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*r = Required{Roles: obj.Roles}
		return nil
	default:
		var flag bool
		if err := json.Unmarshal(b, &flag); err != nil {
			return err
		}
		*r = Required{Flag: flag}
		return nil
	}
}

var requiredRoles = []string{"user", "admin"}

func anyRequiredRole(roles []string) bool {
	for _, r := range requiredRoles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

// IsRequired is true when any of the server's requirement shapes says so.
// Conditions are OR-ed; there is no precedence between them.
func (m AttributeMetadata) IsRequired() bool {
	if m.Required.Flag || anyRequiredRole(m.Required.Roles) {
		return true
	}
	if m.Requirements != nil && (m.Requirements.Always || anyRequiredRole(m.Requirements.Roles)) {
		return true
	}
	return false
}

// validators prefers validators over the older validations key.
func (m AttributeMetadata) validators() map[string]map[string]any {
	if m.Validators != nil {
		return m.Validators
	}
	if m.Validations != nil {
		return m.Validations
	}
	return map[string]map[string]any{}
}

// ParseMetadata extracts userProfileMetadata from a decoded account record.
func ParseMetadata(record map[string]any) (Metadata, bool) {
	raw, ok := record["userProfileMetadata"]
	if !ok || raw == nil {
		return Metadata{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return Metadata{}, false
	}
	var md Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return Metadata{}, false
	}
	return md, true
}
