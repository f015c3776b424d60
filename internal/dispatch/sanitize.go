package dispatch

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// sanitize trims every string in the payload and strips markup tags,
// recursing into nested objects and arrays. Non-string values pass through.
func sanitize(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(tagPattern.ReplaceAllString(t, ""))
	case map[string]any:
		return sanitize(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sanitizeValue(item)
		}
		return out
	}
	return v
}
