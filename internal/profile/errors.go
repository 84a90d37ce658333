package profile

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DefaultSaveError is shown when a rejected save carries nothing better.
const DefaultSaveError = "failed to save"

type serverError struct {
	Field        string `json:"field"`
	ErrorMessage string `json:"errorMessage"`
	Params       []any  `json:"params"`
}

type errorBody struct {
	serverError
	Errors []serverError `json:"errors"`
}

// UpdateErrors is the parsed body of a rejected profile update. Message is
// empty whenever FieldErrors is not.
type UpdateErrors struct {
	FieldErrors map[string]string
	Message     string
}

// ParseUpdateErrors extracts per-field errors from errors[] or a single
// {field, errorMessage} body. Without field errors the general message is
// the last string param, then errorMessage. A non-JSON body is itself the
// message.
func ParseUpdateErrors(body []byte) UpdateErrors {
	out := UpdateErrors{FieldErrors: map[string]string{}, Message: DefaultSaveError}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			out.Message = text
		}
		return out
	}

	errs := parsed.Errors
	if errs == nil && parsed.Field != "" {
		errs = []serverError{parsed.serverError}
	}
	for _, e := range errs {
		if e.Field != "" && e.ErrorMessage != "" {
			out.FieldErrors[e.Field] = e.ErrorMessage
		}
	}
	if len(out.FieldErrors) > 0 {
		out.Message = ""
		return out
	}

	params := parsed.Params
	if params == nil && len(parsed.Errors) > 0 {
		params = parsed.Errors[0].Params
	}
	if n := len(params); n > 0 {
		if s, ok := params[n-1].(string); ok {
			out.Message = s
			return out
		}
	}
	if parsed.ErrorMessage != "" {
		out.Message = parsed.ErrorMessage
	}
	return out
}

// Translate renders every field error and the general message against the
// message catalog.
func (u UpdateErrors) Translate(catalog map[string]string) UpdateErrors {
	out := UpdateErrors{FieldErrors: make(map[string]string, len(u.FieldErrors)), Message: Translate(u.Message, catalog)}
	for k, v := range u.FieldErrors {
		out.FieldErrors[k] = Translate(v, catalog)
	}
	return out
}

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Translate resolves a message key. "${key}" placeholders are replaced in
// place (unknown keys render as the bare key); a string that is itself a
// catalog key is replaced whole. Anything else is returned unchanged.
func Translate(msg string, catalog map[string]string) string {
	if msg == "" {
		return ""
	}
	if v, ok := catalog[msg]; ok {
		return v
	}
	if !strings.Contains(msg, "${") {
		return msg
	}
	return placeholder.ReplaceAllStringFunc(msg, func(m string) string {
		key := m[2 : len(m)-1]
		if v, ok := catalog[key]; ok {
			return v
		}
		return key
	})
}
