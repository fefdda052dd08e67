package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync/atomic"
)

// BasicVerifier checks basic-auth credentials against one configured user.
// The plaintext password is discarded after hashing.
type BasicVerifier struct {
	username string
	hash     string

	// digest of the last accepted username:password pair, so repeat requests
	// from the same browser skip the Argon2 derivation.
	accepted atomic.Pointer[[sha256.Size]byte]
}

// NewBasicVerifier hashes password and returns a verifier for username.
func NewBasicVerifier(username, password string) (*BasicVerifier, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("basic auth requires a username and password")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash basic auth password: %w", err)
	}
	return &BasicVerifier{username: username, hash: hash}, nil
}

// Verify reports whether username and password match.
func (v *BasicVerifier) Verify(username, password string) bool {
	digest := sha256.Sum256([]byte(username + ":" + password))
	if last := v.accepted.Load(); last != nil && subtle.ConstantTimeCompare(last[:], digest[:]) == 1 {
		return true
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) == 1
	passOK, err := VerifyPassword(password, v.hash)
	if err != nil || !userOK || !passOK {
		return false
	}

	v.accepted.Store(&digest)
	return true
}
