package cryptoutil

import (
	"crypto/rand"
	"fmt"
)

const alnumLower = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomAlnumLower returns a cryptographically random lowercase
// alphanumeric string of length n, used for namespace suffixes
// ("prj-<6 alnum>") and resource name suffixes
// ("<kind>-<6 alnum>"), per spec.md §4.4/§4.6.
func RandomAlnumLower(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = alnumLower[int(v)%len(alnumLower)]
	}
	return string(out), nil
}

const clearKeyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomClearKey returns a 16-character alphanumeric clear-text secret
// key, per spec.md §4.5 step 3.
func RandomClearKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	out := make([]byte, 16)
	for i, v := range b {
		out[i] = clearKeyAlphabet[int(v)%len(clearKeyAlphabet)]
	}
	return string(out), nil
}
