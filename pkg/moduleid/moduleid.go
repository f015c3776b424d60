// Package moduleid normalizes module names. The sanitized form is the one
// canonical key for everything derived from a module name: the registry entry,
// the Postgres schema, and the contract document lookup. Call sites must not
// re-implement this mapping.
package moduleid

import "strings"

// Sanitize uppercases s and replaces every character outside [A-Z0-9_] with '_'.
func Sanitize(s string) string {
	up := strings.ToUpper(s)
	var b strings.Builder
	b.Grow(len(up))
	for _, r := range up {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SchemaName returns the Postgres schema for a module. Schema and module key
// are the same token; this exists so callers state which role they need.
func SchemaName(module string) string {
	return Sanitize(module)
}
