package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned when the request credential does not match the
// installation secret or is missing.
var ErrUnauthorized = errors.New("webhook: unauthorized")

// Authenticator verifies request credentials against the installation
// secret.
type Authenticator struct {
	digest [sha256.Size]byte
}

// NewAuthenticator returns an authenticator for secret. An empty secret
// rejects everything.
func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{}
	if secret != "" {
		a.digest = sha256.Sum256([]byte(secret))
	}
	return a
}

// Verify compares credential with the secret. Both sides are hashed first so
// the comparison runs over equal-length inputs and its timing depends on
// neither the position of the first mismatch nor the credential length.
func (a *Authenticator) Verify(credential string) error {
	var zero [sha256.Size]byte
	if a.digest == zero {
		return ErrUnauthorized
	}
	got := sha256.Sum256([]byte(credential))
	if subtle.ConstantTimeCompare(got[:], a.digest[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// VerifyAll requires at least one credential and every supplied one to
// match. Empty strings count as not supplied.
func (a *Authenticator) VerifyAll(credentials ...string) error {
	supplied := 0
	failed := 0
	for _, c := range credentials {
		if c == "" {
			continue
		}
		supplied++
		if a.Verify(c) != nil {
			failed++
		}
	}
	if supplied == 0 || failed > 0 {
		return ErrUnauthorized
	}
	return nil
}
