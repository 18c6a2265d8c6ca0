package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Credential kinds stored per source.
const (
	KindSessionKey = "session_key" // Last.fm-style auth.getSession secret
	KindAPIToken   = "api_token"   // ListenBrainz-style bearer token
	KindAdminHash  = "admin_hash"  // argon2id hash of the control-surface admin password
)

var ErrCredentialNotFound = errors.New("store: credential not found")

// StoredCredential is one (source, kind) secret, encrypted at rest.
type StoredCredential struct {
	SourceName string
	Kind       string
	Username   string
	Secret     string
	UpdatedAt  time.Time
}

// PutCredential encrypts and upserts a secret for (sourceName, kind).
func (s *Store) PutCredential(sourceName, kind, username, secret string) error {
	if s.encryptor == nil {
		return fmt.Errorf("store: encryption not configured")
	}
	encrypted, err := s.encryptor.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("store: encrypting credential: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO credentials (source_name, kind, username, secret, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_name, kind) DO UPDATE SET
			username = excluded.username,
			secret = excluded.secret,
			updated_at = excluded.updated_at`,
		sourceName, kind, username, encrypted, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: storing credential: %w", err)
	}
	return nil
}

// GetCredential retrieves and decrypts a secret for (sourceName, kind).
func (s *Store) GetCredential(sourceName, kind string) (StoredCredential, error) {
	if s.encryptor == nil {
		return StoredCredential{}, fmt.Errorf("store: encryption not configured")
	}

	var encrypted, username, updatedAt string
	err := s.db.QueryRow(
		`SELECT username, secret, updated_at FROM credentials WHERE source_name = ? AND kind = ?`,
		sourceName, kind,
	).Scan(&username, &encrypted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredCredential{}, ErrCredentialNotFound
	}
	if err != nil {
		return StoredCredential{}, fmt.Errorf("store: getting credential: %w", err)
	}

	decrypted, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return StoredCredential{}, fmt.Errorf("store: decrypting credential: %w", err)
	}

	parsedAt, err := parseSQLiteTime(updatedAt)
	if err != nil {
		return StoredCredential{}, fmt.Errorf("store: parsing credential timestamp: %w", err)
	}

	return StoredCredential{
		SourceName: sourceName,
		Kind:       kind,
		Username:   username,
		Secret:     decrypted,
		UpdatedAt:  parsedAt,
	}, nil
}

// DeleteCredential removes a stored secret, if present.
func (s *Store) DeleteCredential(sourceName, kind string) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE source_name = ? AND kind = ?`, sourceName, kind)
	if err != nil {
		return fmt.Errorf("store: deleting credential: %w", err)
	}
	return nil
}
