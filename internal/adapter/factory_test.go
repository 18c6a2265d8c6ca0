package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrobblerd/internal/creds"
	"scrobblerd/internal/crypto"
	"scrobblerd/internal/store"
)

func newTestManager(t *testing.T) *creds.Manager {
	t.Helper()
	key := "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE="
	enc, err := crypto.NewEncryptor(key)
	require.NoError(t, err)
	s, err := store.New(":memory:", store.WithEncryptor(enc))
	require.NoError(t, err)
	require.NoError(t, s.Migrate("../../migrations"))
	t.Cleanup(func() { s.Close() })
	return creds.NewManager(s, "app-api-key")
}

func TestFactoryBuildsLastFMAdapter(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.PutSessionKey("lastfm:alice", "alice", "session-key"))

	a, err := New(SourceLastFM, "lastfm:alice", m)
	require.NoError(t, err)

	lf, ok := a.(*LastFM)
	require.True(t, ok)
	assert.False(t, lf.Windowed())
}

func TestFactoryBuildsListenBrainzAdapter(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.PutToken("listenbrainz:bob", "bob", "tok"))

	a, err := New(SourceListenBrainz, "listenbrainz:bob", m)
	require.NoError(t, err)

	lb, ok := a.(*ListenBrainz)
	require.True(t, ok)
	assert.True(t, lb.Windowed())
}

func TestFactoryMissingCredentialErrors(t *testing.T) {
	m := newTestManager(t)
	_, err := New(SourceLastFM, "lastfm:missing", m)
	assert.Error(t, err)
}

func TestFactoryUnsupportedSourceTypeErrors(t *testing.T) {
	m := newTestManager(t)
	_, err := New(SourceType("spotify"), "spotify:x", m)
	assert.Error(t, err)
}
