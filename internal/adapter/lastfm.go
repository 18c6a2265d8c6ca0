package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"scrobblerd/internal/httputil"
	"scrobblerd/internal/play"
)

const defaultLastFMBaseURL = "https://ws.audioscrobbler.com/2.0/"

// LastFM fetches a user's recent tracks. Last.fm timestamps history items
// (the "uts" field) but never the now-playing item, so this adapter drives
// the poller's timestamp-comparison classification path.
type LastFM struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	username   string
	limit      int
	logger     *slog.Logger
}

// LastFMOption customizes a LastFM adapter at construction.
type LastFMOption func(*LastFM)

func WithLastFMLogger(l *slog.Logger) LastFMOption {
	return func(a *LastFM) { a.logger = l }
}

func WithLastFMLimit(n int) LastFMOption {
	return func(a *LastFM) { a.limit = n }
}

// WithLastFMBaseURL points the adapter at a non-default API host, for tests.
func WithLastFMBaseURL(baseURL string) LastFMOption {
	return func(a *LastFM) { a.baseURL = baseURL }
}

// NewLastFM builds a Last.fm adapter rate-limited to the service's
// unofficial ~5 req/s ceiling.
func NewLastFM(apiKey, username string, opts ...LastFMOption) *LastFM {
	a := &LastFM{
		httpClient: httputil.NewClientWithTimeout(httputil.DefaultTimeout),
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		baseURL:    defaultLastFMBaseURL,
		apiKey:     apiKey,
		username:   username,
		limit:      50,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LastFM) Windowed() bool { return false }

type lastfmRecentTracksResponse struct {
	RecentTracks struct {
		Track []lastfmTrack `json:"track"`
		Attr  struct {
			Page       string `json:"page"`
			TotalPages string `json:"totalPages"`
		} `json:"@attr"`
	} `json:"recenttracks"`
}

type lastfmTrack struct {
	Artist struct {
		Text string `json:"#text"`
	} `json:"artist"`
	Album struct {
		Text string `json:"#text"`
	} `json:"album"`
	Name string `json:"name"`
	MBID string `json:"mbid"`
	Date struct {
		UTS string `json:"uts"`
	} `json:"date"`
	Attr struct {
		NowPlaying string `json:"nowplaying"`
	} `json:"@attr"`
}

// Fetch implements poller.Adapter.
func (a *LastFM) Fetch(ctx context.Context) ([]play.Record, error) {
	records, _, err := a.fetchPage(ctx, 1, url.Values{})
	if err != nil {
		return nil, err
	}
	sortHistoryOldestFirst(records)
	return records, nil
}

// Backfill implements Backfiller: it pages through user.getrecenttracks
// with a "from" bound, stopping once a page is exhausted or a page cap is
// reached so a stalled account can't make backfill run forever.
const backfillMaxPages = 20

func (a *LastFM) Backfill(ctx context.Context, since time.Time) ([]play.Record, error) {
	params := url.Values{}
	params.Set("from", strconv.FormatInt(since.Unix(), 10))

	var all []play.Record
	for page := 1; page <= backfillMaxPages; page++ {
		records, totalPages, err := a.fetchPage(ctx, page, params)
		if err != nil {
			return all, err
		}
		all = append(all, records...)
		if page >= totalPages {
			break
		}
	}
	sortHistoryOldestFirst(all)
	return all, nil
}

func (a *LastFM) fetchPage(ctx context.Context, page int, extra url.Values) ([]play.Record, int, error) {
	params := url.Values{}
	params.Set("method", "user.getrecenttracks")
	params.Set("user", a.username)
	params.Set("api_key", a.apiKey)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(a.limit))
	params.Set("page", strconv.Itoa(page))
	for k, vs := range extra {
		for _, v := range vs {
			params.Set(k, v)
		}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("lastfm: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("lastfm: building request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("lastfm: fetching recent tracks for %s: %w", a.username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
		httputil.DrainBody(resp)
		return nil, 0, fmt.Errorf("lastfm: status %d: %s", resp.StatusCode, body)
	}

	var parsed lastfmRecentTracksResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("lastfm: decoding response for %s: %w", a.username, err)
	}

	records := make([]play.Record, 0, len(parsed.RecentTracks.Track))
	for _, t := range parsed.RecentTracks.Track {
		if t.Name == "" {
			a.logger.Warn("lastfm: dropping malformed track with empty name", "user", a.username)
			continue
		}
		r := play.Record{
			Data: play.Data{
				Artists: []string{t.Artist.Text},
				Album:   t.Album.Text,
				Track:   t.Name,
			},
			Meta: play.Meta{
				Source:     "lastfm:" + a.username,
				TrackID:    t.MBID,
				NowPlaying: t.Attr.NowPlaying == "true",
			},
		}
		if t.Date.UTS != "" {
			secs, err := strconv.ParseInt(t.Date.UTS, 10, 64)
			if err != nil {
				a.logger.Warn("lastfm: dropping track with unparseable timestamp", "user", a.username, "track", t.Name)
				continue
			}
			r.Data.PlayDate = time.Unix(secs, 0).UTC()
			r.Data.HasPlayDate = true
		}
		if play.Invalid(r) {
			a.logger.Warn("lastfm: dropping invalid record", "user", a.username, "track", t.Name)
			continue
		}
		records = append(records, r)
	}

	totalPages := 1
	if parsed.RecentTracks.Attr.TotalPages != "" {
		if n, err := strconv.Atoi(parsed.RecentTracks.Attr.TotalPages); err == nil && n > 0 {
			totalPages = n
		}
	}

	return records, totalPages, nil
}
