package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"scrobblerd/internal/httputil"
	"scrobblerd/internal/play"
)

const defaultListenBrainzBaseURL = "https://api.listenbrainz.org/1"

// ListenBrainz fetches a user's recent listens feed; the "playing now"
// endpoint is not queried. Unlike
// LastFM, this adapter is modeled on the source's listPlays/shelfPlays
// ambiguity: its feed is treated as an unordered
// recent-items window rather than a reliable timeline, so it drives the
// poller's recent-window reconciler instead of timestamp comparison.
type ListenBrainz struct {
	httpClient *http.Client
	baseURL    string
	token      string
	username   string
	count      int
	logger     *slog.Logger
}

type ListenBrainzOption func(*ListenBrainz)

func WithListenBrainzLogger(l *slog.Logger) ListenBrainzOption {
	return func(a *ListenBrainz) { a.logger = l }
}

// WithListenBrainzBaseURL points the adapter at a non-default API host, for tests.
func WithListenBrainzBaseURL(baseURL string) ListenBrainzOption {
	return func(a *ListenBrainz) { a.baseURL = baseURL }
}

func NewListenBrainz(token, username string, opts ...ListenBrainzOption) *ListenBrainz {
	a := &ListenBrainz{
		httpClient: httputil.NewClientWithTimeout(httputil.DefaultTimeout),
		baseURL:    defaultListenBrainzBaseURL,
		token:      token,
		username:   username,
		count:      25,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *ListenBrainz) Windowed() bool { return true }

type listenbrainzListensResponse struct {
	Payload struct {
		Listens []listenbrainzListen `json:"listens"`
	} `json:"payload"`
}

type listenbrainzListen struct {
	TrackMetadata struct {
		ArtistName  string `json:"artist_name"`
		ReleaseName string `json:"release_name"`
		TrackName   string `json:"track_name"`
		AdditionalInfo struct {
			RecordingMBID string `json:"recording_mbid"`
		} `json:"additional_info"`
	} `json:"track_metadata"`
}

// Fetch implements poller.Adapter. The listen list is returned in the
// order ListenBrainz reports it (newest-first), untouched, since the
// windowed reconciler — not this adapter — is responsible for turning
// order changes into newness decisions.
func (a *ListenBrainz) Fetch(ctx context.Context) ([]play.Record, error) {
	url := fmt.Sprintf("%s/user/%s/listens?count=%d", a.baseURL, a.username, a.count)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("listenbrainz: building request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Token "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listenbrainz: fetching listens for %s: %w", a.username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
		httputil.DrainBody(resp)
		return nil, fmt.Errorf("listenbrainz: status %d: %s", resp.StatusCode, body)
	}

	var parsed listenbrainzListensResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("listenbrainz: decoding response for %s: %w", a.username, err)
	}

	records := make([]play.Record, 0, len(parsed.Payload.Listens))
	for _, l := range parsed.Payload.Listens {
		if l.TrackMetadata.TrackName == "" {
			a.logger.Warn("listenbrainz: dropping malformed listen with empty track name", "user", a.username)
			continue
		}
		records = append(records, play.Record{
			Data: play.Data{
				Artists: []string{l.TrackMetadata.ArtistName},
				Album:   l.TrackMetadata.ReleaseName,
				Track:   l.TrackMetadata.TrackName,
			},
			Meta: play.Meta{
				Source:  "listenbrainz:" + a.username,
				TrackID: l.TrackMetadata.AdditionalInfo.RecordingMBID,
			},
		})
	}
	return records, nil
}
