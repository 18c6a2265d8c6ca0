package store

import (
	"testing"

	"scrobblerd/internal/crypto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	key := "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE=" // 32 raw bytes, base64
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatalf("building encryptor: %v", err)
	}
	s, err := New(":memory:", WithEncryptor(enc))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	if err := s.Migrate("../../migrations"); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetCredentialRoundTrips(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutCredential("lastfm:alice", KindSessionKey, "alice", "sekrit"); err != nil {
		t.Fatalf("PutCredential: %v", err)
	}

	got, err := s.GetCredential("lastfm:alice", KindSessionKey)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got.Secret != "sekrit" || got.Username != "alice" {
		t.Fatalf("got %+v, want secret=sekrit username=alice", got)
	}
}

func TestGetMissingCredentialReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCredential("nope", KindAPIToken)
	if err != ErrCredentialNotFound {
		t.Fatalf("err = %v, want ErrCredentialNotFound", err)
	}
}

func TestPutCredentialOverwritesExisting(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutCredential("src", KindAPIToken, "u", "first"); err != nil {
		t.Fatalf("PutCredential: %v", err)
	}
	if err := s.PutCredential("src", KindAPIToken, "u", "second"); err != nil {
		t.Fatalf("PutCredential: %v", err)
	}
	got, err := s.GetCredential("src", KindAPIToken)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got.Secret != "second" {
		t.Fatalf("secret = %q, want %q", got.Secret, "second")
	}
}

func TestDeleteCredentialRemovesIt(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutCredential("src", KindAdminHash, "", "hash"); err != nil {
		t.Fatalf("PutCredential: %v", err)
	}
	if err := s.DeleteCredential("src", KindAdminHash); err != nil {
		t.Fatalf("DeleteCredential: %v", err)
	}
	if _, err := s.GetCredential("src", KindAdminHash); err != ErrCredentialNotFound {
		t.Fatalf("err = %v, want ErrCredentialNotFound after delete", err)
	}
}
