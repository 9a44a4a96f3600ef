// Package auth verifies bearer credentials presented during the
// connection handshake. The relay never stores accounts itself; identity
// records come from tokens minted by the external identity service.
package auth

import "errors"

// ErrInvalidCredential is returned for a missing, malformed or expired
// bearer credential. Connections failing with it are refused before any
// registry or room state is created.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the record the identity collaborator vouches for.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// Verifier turns a bearer credential into an Identity. Implementations may
// validate locally (JWT) or call out to the identity service.
type Verifier interface {
	Verify(token string) (Identity, error)
}
