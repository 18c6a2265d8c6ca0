// Command scrobblerd runs the scrobble poller: one Source Poller per
// configured upstream (Last.fm, ListenBrainz), fanning newly discovered
// plays out to whichever of those same services are configured as
// scrobble targets, plus a small HTTP control/status surface.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scrobblerd/internal/adapter"
	"scrobblerd/internal/backfill"
	"scrobblerd/internal/creds"
	"scrobblerd/internal/crypto"
	"scrobblerd/internal/dispatch"
	"scrobblerd/internal/filterrules"
	"scrobblerd/internal/notifier"
	"scrobblerd/internal/poller"
	"scrobblerd/internal/server"
	"scrobblerd/internal/store"
	"scrobblerd/internal/version"
)

var Version = "dev"

func main() {
	dbPath := envOr("DB_PATH", "./data/scrobblerd.db")
	listenAddr := envOr("LISTEN_ADDR", ":7935")
	migrationsDir := envOr("MIGRATIONS_DIR", "./migrations")
	corsOrigin := os.Getenv("CORS_ORIGIN")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	var storeOpts []store.Option
	if encKey := os.Getenv("TOKEN_ENCRYPTION_KEY"); encKey != "" {
		enc, err := crypto.NewEncryptor(encKey)
		if err != nil {
			log.Fatalf("invalid TOKEN_ENCRYPTION_KEY: %v", err)
		}
		storeOpts = append(storeOpts, store.WithEncryptor(enc))
	} else {
		log.Println("TOKEN_ENCRYPTION_KEY not set — credential storage disabled")
	}

	s, err := store.New(dbPath, storeOpts...)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(migrationsDir); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	credsMgr := creds.NewManager(s, os.Getenv("LASTFM_API_KEY"))

	notif := notifier.New()
	notif.SetChannels(loadNotifyChannels())

	filterEngine := filterrules.NewEngine(filterrules.WithNotifier(notif))
	if v := os.Getenv("MIN_DURATION_SEC"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			filterEngine.Register(filterrules.NewMinDuration(time.Duration(secs) * time.Second))
		}
	}
	if v := os.Getenv("BLOCKED_ARTISTS"); v != "" {
		filterEngine.Register(filterrules.NewBlockedArtist(splitCSV(v)))
	}
	if v := os.Getenv("DUPLICATE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			filterEngine.Register(filterrules.NewDuplicateWindow(d))
		}
	}

	sources, scrobbleClients := configureSources(credsMgr)
	if len(sources) == 0 {
		log.Println("no sources configured; set LASTFM_USERNAME/LASTFM_SESSION_KEY and/or LISTENBRAINZ_USERNAME/LISTENBRAINZ_TOKEN")
	}

	fanOutOpts := []dispatch.FanOutOption{dispatch.WithFilterEngine(filterEngine)}
	fanOut := dispatch.NewFanOut(scrobbleClients, fanOutOpts...)

	pollers := make(map[string]*poller.Poller, len(sources))
	var backfillSources []backfill.Source
	for _, src := range sources {
		p := poller.New(src.name, src.kind, src.adapter, fanOut,
			poller.WithFaultNotifier(notif),
			poller.WithConfig(src.config),
			poller.WithCursorStore(s),
		)
		pollers[src.name] = p
		backfillSources = append(backfillSources, backfill.Source{
			Name:     src.name,
			Adapter:  src.adapter,
			Lookback: 30 * 24 * time.Hour,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, p := range pollers {
		p.Start(ctx)
	}

	bf := backfill.New(backfillSources, fanOut)
	bf.Start(ctx)
	defer bf.Stop()

	vc := version.NewChecker(Version)
	go vc.Start(ctx)

	srvOpts := []server.Option{
		server.WithCredsManager(credsMgr),
		server.WithBackfillScheduler(bf),
		server.WithAdminToken(creds.NewAdminToken(os.Getenv("ADMIN_TOKEN"))),
		server.WithVersion(vc),
		server.WithAppContext(ctx),
	}
	if corsOrigin != "" {
		srvOpts = append(srvOpts, server.WithCORSOrigin(corsOrigin))
	}
	srv := server.NewServer(s, pollers, srvOpts...)
	defer srv.Stop()

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	go func() {
		log.Printf("scrobblerd %s listening on %s", Version, listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	for _, p := range pollers {
		p.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// configuredSource is one poller's static identity. configureSources
// returns the matching dispatch.ScrobbleClients in a separate slice, since
// in this deployment every configured source doubles as a fan-out target:
// the same vendor API used to fetch plays is also used to submit them.
type configuredSource struct {
	name    string
	kind    string
	adapter poller.Adapter
	config  poller.Config
}

func configureSources(m *creds.Manager) ([]configuredSource, []dispatch.ScrobbleClient) {
	var sources []configuredSource
	var clients []dispatch.ScrobbleClient

	if apiKey := os.Getenv("LASTFM_API_KEY"); apiKey != "" {
		username := os.Getenv("LASTFM_USERNAME")
		sessionKey := os.Getenv("LASTFM_SESSION_KEY")
		sourceName := "lastfm:" + username
		if username != "" && sessionKey != "" {
			if _, err := m.SessionKey(sourceName); err != nil {
				if err := m.PutSessionKey(sourceName, username, sessionKey); err != nil {
					log.Printf("lastfm: storing bootstrap session key: %v", err)
				}
			}
			a, err := adapter.New(adapter.SourceLastFM, sourceName, m)
			if err != nil {
				log.Printf("lastfm: building adapter: %v", err)
			} else {
				cfg := poller.DefaultConfig()
				applyIntervalOverride(&cfg, "LASTFM_INTERVAL")
				sources = append(sources, configuredSource{name: sourceName, kind: "lastfm", adapter: a, config: cfg})
				clients = append(clients, adapter.NewLastFMScrobbler(apiKey, os.Getenv("LASTFM_SHARED_SECRET"), sessionKey, username))
			}
		}
	}

	if token := os.Getenv("LISTENBRAINZ_TOKEN"); token != "" {
		username := os.Getenv("LISTENBRAINZ_USERNAME")
		sourceName := "listenbrainz:" + username
		if username != "" {
			if _, err := m.Token(sourceName); err != nil {
				if err := m.PutToken(sourceName, username, token); err != nil {
					log.Printf("listenbrainz: storing bootstrap token: %v", err)
				}
			}
			a, err := adapter.New(adapter.SourceListenBrainz, sourceName, m)
			if err != nil {
				log.Printf("listenbrainz: building adapter: %v", err)
			} else {
				cfg := poller.DefaultConfig()
				applyIntervalOverride(&cfg, "LISTENBRAINZ_INTERVAL")
				sources = append(sources, configuredSource{name: sourceName, kind: "listenbrainz", adapter: a, config: cfg})
				clients = append(clients, adapter.NewListenBrainzScrobbler(token, username))
			}
		}
	}

	return sources, clients
}

func applyIntervalOverride(cfg *poller.Config, envKey string) {
	v := os.Getenv(envKey)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("%s: invalid duration %q, keeping default", envKey, v)
		return
	}
	cfg.Interval = d
}

func loadNotifyChannels() []notifier.Channel {
	var channels []notifier.Channel
	if url := os.Getenv("NOTIFY_WEBHOOK_URL"); url != "" {
		channels = append(channels, notifier.Channel{
			Name:        "webhook",
			ChannelType: notifier.ChannelTypeWebhook,
			Config:      []byte(`{"url":"` + url + `"}`),
			Enabled:     true,
		})
	}
	if url := os.Getenv("NOTIFY_DISCORD_URL"); url != "" {
		channels = append(channels, notifier.Channel{
			Name:        "discord",
			ChannelType: notifier.ChannelTypeDiscord,
			Config:      []byte(`{"webhook_url":"` + url + `"}`),
			Enabled:     true,
		})
	}
	return channels
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
