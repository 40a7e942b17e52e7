// Package auth checks the shared token kernel adapters present to the daemon.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashToken returns the hex SHA-256 of the token with surrounding whitespace removed.
func HashToken(token string) string {
	token = strings.TrimSpace(token)

	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Verifier matches presented tokens against one expected token.
// Only the digest is kept, so comparisons run over equal lengths. Presented tokens
// are compared as sent, without trimming.
type Verifier struct {
	digest [sha256.Size]byte
}

// NewVerifier returns a Verifier for token.
func NewVerifier(token string) *Verifier {
	return &Verifier{digest: sha256.Sum256([]byte(strings.TrimSpace(token)))}
}

// Verify reports whether presented matches the expected token.
func (v *Verifier) Verify(presented string) bool {
	got := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(got[:], v.digest[:]) == 1
}
