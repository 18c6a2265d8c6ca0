package creds

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"scrobblerd/internal/store"
)

// Argon2id parameters for the control-surface admin password.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

var (
	ErrPasswordTooShort = errors.New("creds: admin password must be at least 8 characters")
	ErrInvalidHash      = errors.New("creds: invalid password hash format")
)

// DummyHash is a pre-computed argon2id hash used for timing-attack resistance
// when no admin password has been set yet.
const DummyHash = "$argon2id$v=19$m=65536,t=1,p=4$dGltaW5nLWF0dGFjaw$aSfHnpGNSgY4Gu8Q3vKzm0bVdJ6R5cX1cWbO3L2nZ8k"

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	return nil
}

// HashPassword generates an argon2id hash in PHC format.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("creds: generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads, b64Salt, b64Hash), nil
}

// VerifyPassword checks password against an argon2id hash in constant time.
func VerifyPassword(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var memory, t uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &t, &threads); err != nil {
		return false, fmt.Errorf("creds: parsing hash params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("creds: decoding salt: %w", err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("creds: decoding hash: %w", err)
	}

	computedHash := argon2.IDKey([]byte(password), salt, t, memory, threads, uint32(len(expectedHash)))

	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1, nil
}

// SetAdminPassword hashes and stores the control-surface admin password.
func (m *Manager) SetAdminPassword(password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return m.store.PutCredential("admin", store.KindAdminHash, "admin", hash)
}

// VerifyAdminPassword checks password against the stored admin hash,
// comparing against DummyHash when unset so the two paths take the same
// amount of time.
func (m *Manager) VerifyAdminPassword(password string) (bool, error) {
	c, err := m.store.GetCredential("admin", store.KindAdminHash)
	hash := DummyHash
	if err == nil {
		hash = c.Secret
	}
	ok, verr := VerifyPassword(password, hash)
	if verr != nil {
		return false, verr
	}
	return ok && err == nil, nil
}
