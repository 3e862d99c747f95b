package audit

import (
	"encoding/json"
	"regexp"
	"strings"
)

// sensitiveFields are redacted wherever they appear in an audited payload.
var sensitiveFields = map[string]struct{}{
	"name":             {},
	"mobilenumber":     {},
	"mobile_number":    {},
	"email":            {},
	"address":          {},
	"dateofbirth":      {},
	"date_of_birth":    {},
	"age":              {},
	"bloodgroup":       {},
	"blood_group":      {},
	"diagnosis":        {},
	"chiefcomplaints":  {},
	"chief_complaints": {},
	"investigation":    {},
	"note":             {},
	"prescription":     {},
	"document":         {},
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?[0-9][0-9\-\s]{8,}[0-9]`)
)

const redacted = "[REDACTED]"

// Mask returns a JSON-safe copy of v with denylisted fields redacted and
// emails / phone numbers scrubbed from remaining free text. A nil input
// yields nil.
func Mask(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return redacted
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return redacted
	}
	return maskValue(generic)
}

func maskValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitive(k) {
				out[k] = maskLeaf(inner)
				continue
			}
			out[k] = maskValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = maskValue(inner)
		}
		return out
	case string:
		return scrub(val)
	default:
		return val
	}
}

// maskLeaf keeps the shape of a sensitive value without its content.
func maskLeaf(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return ""
		}
		r := []rune(val)
		return string(r[0]) + strings.Repeat("*", len(r)-1)
	default:
		return redacted
	}
}

func scrub(s string) string {
	s = emailRe.ReplaceAllString(s, "[EMAIL]")
	return phoneRe.ReplaceAllString(s, "[PHONE]")
}

func isSensitive(key string) bool {
	_, ok := sensitiveFields[strings.ToLower(key)]
	return ok
}
