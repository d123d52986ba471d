package util

import "strings"

// NormalizeLoginIdentifier lowercases and trims a login identifier so
// lookups and uniqueness checks are case-insensitive.
func NormalizeLoginIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
