package profile

import (
	"fmt"
	"sort"
)

// Attribute is one form field as the rendering layer consumes it. Exactly
// one of Value and Values is set, depending on Multivalued.
type Attribute struct {
	Name         string                    `json:"name" yaml:"name"`
	DisplayName  string                    `json:"displayName" yaml:"displayName"`
	Required     bool                      `json:"required" yaml:"required"`
	Value        *string                   `json:"value,omitempty" yaml:"value,omitempty"`
	Values       []string                  `json:"values,omitempty" yaml:"values,omitempty"`
	Multivalued  bool                      `json:"multivalued" yaml:"multivalued"`
	ReadOnly     bool                      `json:"readOnly" yaml:"readOnly"`
	Validators   map[string]map[string]any `json:"validators" yaml:"validators"`
	Annotations  map[string]any            `json:"annotations" yaml:"annotations"`
	Autocomplete string                    `json:"autocomplete,omitempty" yaml:"autocomplete,omitempty"`
	Group        *Group                    `json:"group,omitempty" yaml:"group,omitempty"`
}

type Group struct {
	Name               string `json:"name" yaml:"name"`
	DisplayHeader      string `json:"displayHeader,omitempty" yaml:"displayHeader,omitempty"`
	DisplayDescription string `json:"displayDescription,omitempty" yaml:"displayDescription,omitempty"`
}

// Strings returns the attribute's value(s) as a list.
func (a Attribute) Strings() []string {
	if a.Multivalued {
		return a.Values
	}
	if a.Value == nil {
		return nil
	}
	return []string{*a.Value}
}

// Realm carries the realm flags that change which fields are shown.
type Realm struct {
	RegistrationEmailAsUsername bool `json:"registrationEmailAsUsername" yaml:"registrationEmailAsUsername"`
}

// Schema is the normalized attribute set plus the order to render it in.
type Schema struct {
	AttributesByName map[string]Attribute `json:"attributesByName"`
	Order            []string             `json:"order"`
}

// Build normalizes record (the account representation, optionally carrying
// userProfileMetadata). Live metadata wins; without it the fallback
// attributes rendered by the server are used as-is.
func Build(record map[string]any, realm Realm, fallback map[string]Attribute) Schema {
	s := Schema{AttributesByName: map[string]Attribute{}, Order: []string{}}

	md, ok := ParseMetadata(record)
	if ok && len(md.Attributes) > 0 {
		for _, meta := range md.Attributes {
			if meta.Name == "username" && realm.RegistrationEmailAsUsername {
				continue
			}
			if _, dup := s.AttributesByName[meta.Name]; !dup {
				s.Order = append(s.Order, meta.Name)
			}
			s.AttributesByName[meta.Name] = fromMetadata(meta, userValue(record, meta.Name), md.Groups)
		}
		return s
	}

	names := make([]string, 0, len(fallback))
	for name, a := range fallback {
		s.AttributesByName[name] = a
		names = append(names, name)
	}
	sort.Strings(names)
	s.Order = names
	return s
}

func displayNameKey(name string) string { return "${profile.attributes." + name + "}" }

func fromMetadata(meta AttributeMetadata, values []string, groups []GroupMetadata) Attribute {
	annotations := map[string]any{}
	for k, v := range meta.Annotations {
		annotations[k] = v
	}
	validators := meta.validators()
	if opt, ok := validators["options"]; ok {
		if o, has := opt["options"]; has && o != nil {
			if _, set := annotations["inputType"]; !set {
				annotations["inputType"] = "select"
			}
		}
	}

	a := Attribute{
		Name:        meta.Name,
		DisplayName: meta.DisplayName,
		Required:    meta.IsRequired(),
		Multivalued: meta.Multivalued,
		ReadOnly:    meta.ReadOnly,
		Validators:  validators,
		Annotations: annotations,
	}
	if a.DisplayName == "" {
		a.DisplayName = displayNameKey(meta.Name)
	}
	if meta.Multivalued {
		a.Values = values
	} else {
		v := ""
		if len(values) > 0 {
			v = values[0]
		}
		a.Value = &v
	}
	if ac, ok := annotations["autocomplete"].(string); ok {
		a.Autocomplete = ac
	}
	if meta.Group != "" {
		for _, g := range groups {
			if g.Name == meta.Group {
				a.Group = &Group{Name: g.Name, DisplayHeader: g.DisplayHeader, DisplayDescription: g.DisplayDescription}
				break
			}
		}
	}
	return a
}

// userValue reads name from the top level of the record, then from its
// attributes map. A missing value yields a single empty string.
func userValue(record map[string]any, name string) []string {
	v, ok := record[name]
	if !ok || v == nil {
		if attrs, isMap := record["attributes"].(map[string]any); isMap {
			v, ok = attrs[name]
		}
	}
	if !ok || v == nil {
		return []string{""}
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, stringify(item))
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return []string{stringify(t)}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
