package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"scrobblerd/internal/poller"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion reports the running build and whether a newer release is
// available, if a version.Checker was configured.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if s.version == nil {
		writeJSON(w, http.StatusOK, map[string]string{"version": "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, s.version.Info())
}

// handleListSources reports every configured source's status.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	statuses := make([]poller.Status, 0, len(s.pollers))
	for _, p := range s.pollers {
		statuses = append(statuses, p.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleStartSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.pollers[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	p.Start(s.appCtx)
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *Server) handleStopSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.pollers[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	p.Stop()
	writeJSON(w, http.StatusOK, p.Status())
}

type loginRequest struct {
	Password string `json:"password"`
}

// handleLogin authenticates with the control-surface admin password and
// issues a session cookie, an alternative to the static AdminToken bearer
// for operators who prefer not to put a long-lived secret in client config.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.credsManager == nil {
		writeError(w, http.StatusNotFound, "password login not configured")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := s.credsManager.VerifyAdminPassword(req.Password)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.issueSessionCookie(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessions.revoke(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleOAuthLogin and handleOAuthCallback wire the operator SSO flow when
// an OIDC provider is configured; both are no-ops (404) otherwise.
func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil || !s.oauth.Enabled() {
		http.NotFound(w, r)
		return
	}
	s.oauth.HandleLogin(w, r)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil || !s.oauth.Enabled() {
		http.NotFound(w, r)
		return
	}
	if _, err := s.oauth.HandleCallback(w, r); err != nil {
		writeError(w, http.StatusUnauthorized, "sso login failed")
		return
	}
	s.issueSessionCookie(w, r)
}

func (s *Server) issueSessionCookie(w http.ResponseWriter, r *http.Request) {
	token, err := s.sessions.issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
