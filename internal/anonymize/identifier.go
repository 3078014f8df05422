package anonymize

import (
	"crypto/rand"
)

const identifierLength = 30

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// randomIdentifier draws a fresh 30-character alphanumeric string using an
// independent crypto/rand sample, per spec.md §4.5: "the randomizer MUST
// draw independent samples per row; never reuse a sample within or across
// rows."
func randomIdentifier() (string, error) {
	buf := make([]byte, identifierLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, identifierLength)
	for i, b := range buf {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out), nil
}
