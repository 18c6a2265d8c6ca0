// Package creds manages the credentials adapters need to talk to upstream
// scrobble sources: Last.fm session keys, ListenBrainz tokens, and the
// control surface's own admin password. The polling core never touches
// this package directly; only adapter construction does.
package creds

import (
	"fmt"

	"scrobblerd/internal/store"
)

// SessionKeyCredential is a Last.fm-style (API key + per-user session key)
// pairing, obtained once via the auth.getSession handshake.
type SessionKeyCredential struct {
	Username string
	APIKey   string
	Secret   string
}

// TokenCredential is a bearer-token pairing (ListenBrainz-style).
type TokenCredential struct {
	Username string
	Token    string
}

// Manager wraps the encrypted store with typed, per-source accessors.
type Manager struct {
	store  *store.Store
	apiKey string // shared Last.fm application API key, not per-user
}

// NewManager builds a Manager over an already-opened, encryption-configured store.
func NewManager(st *store.Store, lastfmAPIKey string) *Manager {
	return &Manager{store: st, apiKey: lastfmAPIKey}
}

// SessionKey loads the Last.fm session-key credential for sourceName.
func (m *Manager) SessionKey(sourceName string) (SessionKeyCredential, error) {
	c, err := m.store.GetCredential(sourceName, store.KindSessionKey)
	if err != nil {
		return SessionKeyCredential{}, fmt.Errorf("creds: loading session key for %s: %w", sourceName, err)
	}
	return SessionKeyCredential{Username: c.Username, APIKey: m.apiKey, Secret: c.Secret}, nil
}

// PutSessionKey stores a session key obtained via the auth.getSession flow.
func (m *Manager) PutSessionKey(sourceName, username, sessionKey string) error {
	return m.store.PutCredential(sourceName, store.KindSessionKey, username, sessionKey)
}

// Token loads the bearer-token credential for sourceName.
func (m *Manager) Token(sourceName string) (TokenCredential, error) {
	c, err := m.store.GetCredential(sourceName, store.KindAPIToken)
	if err != nil {
		return TokenCredential{}, fmt.Errorf("creds: loading token for %s: %w", sourceName, err)
	}
	return TokenCredential{Username: c.Username, Token: c.Secret}, nil
}

// PutToken stores a bearer token for sourceName.
func (m *Manager) PutToken(sourceName, username, token string) error {
	return m.store.PutCredential(sourceName, store.KindAPIToken, username, token)
}
