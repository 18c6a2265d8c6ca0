package server

import "net/http"

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)

	s.router.Get("/api/sources", s.handleListSources)
	s.router.With(s.requireAdmin).Post("/api/sources/{name}/start", s.handleStartSource)
	s.router.With(s.requireAdmin).Post("/api/sources/{name}/stop", s.handleStopSource)

	loginLimit := func(next http.Handler) http.Handler { return rateLimitLogin(s.loginLimiter, next) }
	s.router.With(loginLimit).Post("/api/login", s.handleLogin)
	s.router.Post("/api/logout", s.handleLogout)

	s.router.Get("/api/oauth/login", s.handleOAuthLogin)
	s.router.Get("/api/oauth/callback", s.handleOAuthCallback)
}
