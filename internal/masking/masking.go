// Package masking redacts personal data and secrets from text before it
// reaches logs or operator-facing previews.
package masking

import (
	"regexp"
	"strings"
)

var (
	keyValueRE = regexp.MustCompile(`(?i)\b(password|token|api_key|secret|access_key|private_key|client_secret)\s*[:=]\s*[^\s,;]+`)
	employeeRE = regexp.MustCompile(`(?i)(employee[\s_]?id|emp[\s_]?id)(?:[:：]\s*|\s+is\s+)([A-Z\d]+-?[A-Z\d]+)`)
	emailRE    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	ipv4RE     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	phoneRE    = regexp.MustCompile(`(?:\+\d{1,3}[- ]?\d{1,4}[- ]?\d{2,4}[- ]?\d{3,4}|\b0\d{1,4}[- ]?\d{2,4}[- ]?\d{3,4}\b)`)
	tokenRE    = regexp.MustCompile(`\b[A-Za-z0-9_-]{24,}\b`)
)

// sensitiveKeys are always replaced wholesale by MaskMap.
var sensitiveKeys = map[string]struct{}{
	"password": {}, "token": {}, "api_key": {}, "secret": {}, "access_key": {},
	"private_key": {}, "client_secret": {}, "email": {}, "phone": {}, "employee_id": {},
	"temporary_password": {}, "new_password": {},
}

// Redacted replaces a value that must never be stored.
const Redacted = "<REDACTED>"

// Mask replaces secrets, emails, IPv4 addresses, phone numbers, employee ids
// and long opaque tokens in text. Key/value secrets are handled first.
func Mask(text string) string {
	if text == "" {
		return text
	}
	out := keyValueRE.ReplaceAllString(text, "${1}="+Redacted)
	out = employeeRE.ReplaceAllString(out, "${1}: <EMPLOYEE_ID>")
	out = emailRE.ReplaceAllString(out, "<EMAIL>")
	out = ipv4RE.ReplaceAllString(out, "<IP_ADDRESS>")
	out = phoneRE.ReplaceAllString(out, "<PHONE>")
	out = tokenRE.ReplaceAllString(out, "<TOKEN>")
	return out
}

// Preview masks text and truncates it to max bytes.
func Preview(text string, max int) string {
	masked := strings.TrimSpace(Mask(text))
	if max <= 0 || len(masked) <= max {
		return masked
	}
	if max <= 3 {
		return masked[:max]
	}
	return masked[:max-3] + "..."
}

// MaskMap returns a copy of data with sensitive keys redacted and every
// other string value passed through Mask. Nested maps and slices are walked.
func MaskMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			if s, isString := v.(string); isString && s == "" {
				out[k] = s
				continue
			}
			out[k] = Redacted
			continue
		}
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v any) any {
	switch val := v.(type) {
	case string:
		return Mask(val)
	case map[string]any:
		return MaskMap(val)
	case []any:
		cp := make([]any, len(val))
		for i := range val {
			cp[i] = maskValue(val[i])
		}
		return cp
	case []map[string]any:
		cp := make([]map[string]any, len(val))
		for i := range val {
			cp[i] = MaskMap(val[i])
		}
		return cp
	default:
		return v
	}
}

// freeTextKeys hold prose written by operators or returned by the directory.
var freeTextKeys = map[string]struct{}{
	"message": {}, "error": {}, "error_description": {}, "cause": {},
	"comment": {}, "reason": {}, "justification": {}, "command": {},
}

// RedactRecord prepares data for durable audit storage. Sensitive keys are
// replaced and free-text keys are masked; identifiers such as object ids,
// SKU ids, principals and @odata types are kept verbatim.
func RedactRecord(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		key := strings.ToLower(k)
		if _, ok := sensitiveKeys[key]; ok {
			if s, isString := v.(string); isString && s == "" {
				out[k] = s
				continue
			}
			out[k] = Redacted
			continue
		}
		if _, ok := freeTextKeys[key]; ok {
			if s, isString := v.(string); isString {
				out[k] = Mask(s)
				continue
			}
		}
		out[k] = redactRecordValue(v)
	}
	return out
}

func redactRecordValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactRecord(val)
	case []any:
		cp := make([]any, len(val))
		for i := range val {
			cp[i] = redactRecordValue(val[i])
		}
		return cp
	case []map[string]any:
		cp := make([]map[string]any, len(val))
		for i := range val {
			cp[i] = RedactRecord(val[i])
		}
		return cp
	default:
		return v
	}
}
