package normalize

import "strings"

// ID returns a normalized form of a user-supplied identifier (user id or
// room id) suitable for use in store keys and room names. Normalization
// trims surrounding whitespace and lower-cases the value.
func ID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
