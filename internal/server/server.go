package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"scrobblerd/internal/backfill"
	"scrobblerd/internal/creds"
	"scrobblerd/internal/poller"
	"scrobblerd/internal/store"
	"scrobblerd/internal/version"
)

// Server exposes the control surface's small HTTP API: per-source status,
// start/stop control, and a health probe. It deliberately knows nothing
// about the polling internals beyond the poller.Poller/backfill.Scheduler
// handles it was given.
type Server struct {
	router chi.Router
	store  *store.Store

	pollers  map[string]*poller.Poller
	backfill *backfill.Scheduler

	credsManager *creds.Manager
	oauth        *creds.OAuthProvider
	adminToken   creds.AdminToken
	sessions     *sessionStore
	loginLimiter *loginRateLimiter

	corsOrigin string
	version    *version.Checker
	appCtx     context.Context
}

func NewServer(s *store.Store, pollers map[string]*poller.Poller, opts ...Option) *Server {
	srv := &Server{
		router:       chi.NewRouter(),
		store:        s,
		pollers:      pollers,
		sessions:     newSessionStore(),
		loginLimiter: newLoginRateLimiter(10, 15*time.Minute),
		appCtx:       context.Background(),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(securityHeaders)
	if srv.corsOrigin != "" {
		srv.router.Use(corsMiddleware(srv.corsOrigin))
	}
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithBackfillScheduler(b *backfill.Scheduler) Option {
	return func(s *Server) { s.backfill = b }
}

func WithCredsManager(m *creds.Manager) Option {
	return func(s *Server) { s.credsManager = m }
}

func WithOAuthProvider(p *creds.OAuthProvider) Option {
	return func(s *Server) { s.oauth = p }
}

func WithAdminToken(t creds.AdminToken) Option {
	return func(s *Server) { s.adminToken = t }
}

func WithVersion(v *version.Checker) Option {
	return func(s *Server) { s.version = v }
}

func WithAppContext(ctx context.Context) Option {
	return func(s *Server) { s.appCtx = ctx }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Stop releases the server's own background goroutines (the login rate
// limiter's sweep loop). It does not touch the pollers or backfill
// scheduler, which the caller owns and stops independently.
func (s *Server) Stop() {
	s.loginLimiter.Stop()
}
