// Package audit holds request-body redaction for audit records.
package audit

import "github.com/dmitrijs2005/gophgate/internal/common"

// DefaultSensitiveFields are redacted from every audited request body.
var DefaultSensitiveFields = []string{
	"password",
	"token",
	"apiKey",
	"api_key",
	"secret",
	"refresh_token",
	"refreshToken",
}

// Redactor replaces the values of sensitive keys with common.RedactedValue.
// Keys are matched exactly at every nesting level.
type Redactor struct {
	fields map[string]struct{}
}

// NewRedactor builds a Redactor for fields. With no fields it uses
// DefaultSensitiveFields.
func NewRedactor(fields ...string) *Redactor {
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}
	r := &Redactor{fields: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		r.fields[f] = struct{}{}
	}
	return r
}

// With returns a copy of r that also redacts fields.
func (r *Redactor) With(fields ...string) *Redactor {
	out := &Redactor{fields: make(map[string]struct{}, len(r.fields)+len(fields))}
	for f := range r.fields {
		out.fields[f] = struct{}{}
	}
	for _, f := range fields {
		out.fields[f] = struct{}{}
	}
	return out
}

// Sensitive reports whether key is redacted.
func (r *Redactor) Sensitive(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// Redact returns a copy of v with sensitive values replaced. Maps and slices
// are copied; v itself is never modified. Empty sensitive values are left as
// they are.
func (r *Redactor) Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if r.Sensitive(k) && !isEmpty(val) {
				out[k] = common.RedactedValue
				continue
			}
			out[k] = r.Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.Redact(val)
		}
		return out
	default:
		return v
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	default:
		return false
	}
}
