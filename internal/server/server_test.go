package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrobblerd/internal/creds"
	"scrobblerd/internal/crypto"
	"scrobblerd/internal/dispatch"
	"scrobblerd/internal/play"
	"scrobblerd/internal/poller"
	"scrobblerd/internal/store"
)

type noopAdapter struct{}

func (noopAdapter) Fetch(ctx context.Context) ([]play.Record, error) { return nil, nil }

func (noopAdapter) Windowed() bool { return false }

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, plays []play.Record, opts dispatch.Options) []play.Record {
	return plays
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	enc, err := crypto.NewEncryptor("MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE=")
	require.NoError(t, err)
	s, err := store.New(":memory:", store.WithEncryptor(enc))
	require.NoError(t, err)
	require.NoError(t, s.Migrate("../../migrations"))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandleHealthReportsOK(t *testing.T) {
	s := NewServer(newTestStore(t), nil)
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListSourcesReturnsSortedStatuses(t *testing.T) {
	pollers := map[string]*poller.Poller{
		"zeta":  poller.New("zeta", "lastfm", noopAdapter{}, noopDispatcher{}),
		"alpha": poller.New("alpha", "listenbrainz", noopAdapter{}, noopDispatcher{}),
	}
	s := NewServer(newTestStore(t), pollers)
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []poller.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].Name)
	assert.Equal(t, "zeta", statuses[1].Name)
}

func TestHandleStartSourceRequiresAdminToken(t *testing.T) {
	pollers := map[string]*poller.Poller{
		"alpha": poller.New("alpha", "lastfm", noopAdapter{}, noopDispatcher{}),
	}
	s := NewServer(newTestStore(t), pollers)
	defer s.Stop()

	req := httptest.NewRequest(http.MethodPost, "/api/sources/alpha/start", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleStartSourceSucceedsWithValidToken(t *testing.T) {
	pollers := map[string]*poller.Poller{
		"alpha": poller.New("alpha", "lastfm", noopAdapter{}, noopDispatcher{}),
	}
	s := NewServer(newTestStore(t), pollers)
	s.adminToken = creds.NewAdminToken("secret")
	defer s.Stop()
	defer pollers["alpha"].Stop()

	req := httptest.NewRequest(http.MethodPost, "/api/sources/alpha/start", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStartSourceUnknownNameIs404(t *testing.T) {
	s := NewServer(newTestStore(t), map[string]*poller.Poller{})
	s.adminToken = creds.NewAdminToken("secret")
	defer s.Stop()

	req := httptest.NewRequest(http.MethodPost, "/api/sources/missing/start", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
