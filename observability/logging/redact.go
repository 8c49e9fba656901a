package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive values in log lines.
const RedactedValue = "[REDACTED]"

// Keys the lending service may log in clear. Anything else passed through
// MaskField, such as bearer tokens or raw request bodies, is redacted.
var redactionAllowlist = map[string]struct{}{
	// handler envelope
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	// request context
	"remote":     {},
	"path":       {},
	"route":      {},
	"method":     {},
	"status":     {},
	"request_id": {},
	// ledger context
	"caller":       {},
	"claimed":      {},
	"action":       {},
	"code":         {},
	"position_key": {},
}

// IsAllowlisted reports whether key may be logged without redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns RedactedValue for non-empty values. Blank values are kept
// so an absent header still reads as absent.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns value under key, masked unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// MaskFields applies MaskField to alternating key/value pairs and returns
// them as slog arguments. A trailing key without a value is dropped.
func MaskFields(pairs ...string) []any {
	out := make([]any, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, MaskField(pairs[i], pairs[i+1]))
	}
	return out
}
