package creds

import "fmt"

// AdminToken guards the control surface's mutating endpoints with a single
// shared-secret bearer token configured once at startup. There is no
// per-user account or session table behind it — the control surface has
// exactly one privileged caller (the operator), the same reasoning behind
// OAuthProvider's lack of a user table, just via a static secret instead
// of an identity provider. The secret itself is hashed with the same
// argon2id primitive HashPassword/VerifyPassword use for the admin
// password, so the raw value handed in at startup isn't kept in memory
// for the process's lifetime.
type AdminToken struct {
	hash string
}

// NewAdminToken hashes a configured token. An empty token means the guard
// is disabled: Configured reports false and Verify always fails closed.
func NewAdminToken(token string) AdminToken {
	if token == "" {
		return AdminToken{}
	}
	hash, err := HashPassword(token)
	if err != nil {
		panic(fmt.Sprintf("creds: hashing admin token: %v", err))
	}
	return AdminToken{hash: hash}
}

// Configured reports whether an admin token was set at startup.
func (t AdminToken) Configured() bool {
	return t.hash != ""
}

// Verify checks candidate against the configured token's hash.
func (t AdminToken) Verify(candidate string) bool {
	if t.hash == "" || candidate == "" {
		return false
	}
	ok, err := VerifyPassword(candidate, t.hash)
	return err == nil && ok
}
