// Package normalize canonicalizes user-supplied identifiers before they are
// stored or compared.
package normalize

import "strings"

// Email trims surrounding whitespace and lower-cases the address. Every
// lookup and uniqueness check on users goes through it.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Username derives a username from an email: its local part, or the whole
// normalized input when there is no "@".
func Username(email string) string {
	e := Email(email)
	local, _, _ := strings.Cut(e, "@")
	return local
}
