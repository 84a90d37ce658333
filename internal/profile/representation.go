package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

var builtIn = map[string]bool{"username": true, "email": true, "firstName": true, "lastName": true}

// Form fields posted alongside the attributes that are not user data.
var ignoredFields = map[string]bool{"stateChecker": true, "submitAction": true}

func IsBuiltIn(name string) bool { return builtIn[name] }

// FormData is a submitted profile form. JSON values may be a string or a
// list of strings.
type FormData map[string][]string

func (f *FormData) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(FormData, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) > 0 && v[0] == '[':
			var list []any
			if err := json.Unmarshal(v, &list); err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
			vals := make([]string, 0, len(list))
			for _, item := range list {
				vals = append(vals, stringify(item))
			}
			out[k] = vals
		default:
			var one any
			if err := json.Unmarshal(v, &one); err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = []string{stringify(one)}
		}
	}
	*f = out
	return nil
}

// Representation is the user representation the account endpoint accepts.
type Representation struct {
	Username   *string             `json:"username,omitempty"`
	Email      *string             `json:"email,omitempty"`
	FirstName  *string             `json:"firstName,omitempty"`
	LastName   *string             `json:"lastName,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// FormToRepresentation places built-in fields at the top level and every
// other field under attributes. Values are trimmed and blanks dropped; a
// field submitted blank is still sent as an empty list, which is what clears
// it on the server.
func FormToRepresentation(form FormData) Representation {
	var rep Representation
	attrs := map[string][]string{}
	for name, values := range form {
		if ignoredFields[name] {
			continue
		}
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				cleaned = append(cleaned, v)
			}
		}
		if !builtIn[name] {
			attrs[name] = cleaned
			continue
		}
		first := ""
		if len(cleaned) > 0 {
			first = cleaned[0]
		}
		switch name {
		case "username":
			rep.Username = &first
		case "email":
			rep.Email = &first
		case "firstName":
			rep.FirstName = &first
		case "lastName":
			rep.LastName = &first
		}
	}
	if len(attrs) > 0 {
		rep.Attributes = attrs
	}
	return rep
}

// Form flattens the representation back into form data.
func (r Representation) Form() FormData {
	f := FormData{}
	set := func(name string, v *string) {
		if v != nil {
			f[name] = []string{*v}
		}
	}
	set("username", r.Username)
	set("email", r.Email)
	set("firstName", r.FirstName)
	set("lastName", r.LastName)
	for k, v := range r.Attributes {
		f[k] = append([]string{}, v...)
	}
	return f
}
