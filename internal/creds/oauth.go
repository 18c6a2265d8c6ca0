package creds

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const stateCookieName = "scrobblerd_oidc_state"

// OIDCConfig configures the control surface's single-sign-on admin login.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (c OIDCConfig) isSet() bool {
	return c.IssuerURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// OAuthProvider authenticates control-surface admins against an external
// OIDC identity provider, standing in for the per-user media-server login
// the source used for its web UI: here there is exactly one privileged
// identity (the operator), so no user table or account linking is needed.
type OAuthProvider struct {
	mu       sync.RWMutex
	enabled  bool
	provider *gooidc.Provider
	oauth2   oauth2.Config
	verifier *gooidc.IDTokenVerifier
}

// NewOAuthProvider builds an (initially possibly disabled) provider. Pass a
// zero OIDCConfig to leave SSO disabled.
func NewOAuthProvider(ctx context.Context, cfg OIDCConfig) (*OAuthProvider, error) {
	p := &OAuthProvider{}
	if cfg.isSet() {
		if err := p.Reload(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Reload re-points the provider at a (possibly new) issuer, or disables it
// if cfg is unset. Safe to call while HandleLogin/HandleCallback are in flight.
func (p *OAuthProvider) Reload(ctx context.Context, cfg OIDCConfig) error {
	if !cfg.isSet() {
		p.mu.Lock()
		p.enabled = false
		p.provider, p.verifier = nil, nil
		p.oauth2 = oauth2.Config{}
		p.mu.Unlock()
		return nil
	}

	op, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return fmt.Errorf("creds: discovering OIDC provider: %w", err)
	}

	p.mu.Lock()
	p.enabled = true
	p.provider = op
	p.oauth2 = oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     op.Endpoint(),
		Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
	}
	p.verifier = op.Verifier(&gooidc.Config{ClientID: cfg.ClientID})
	p.mu.Unlock()
	return nil
}

func (p *OAuthProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

func (p *OAuthProvider) getConfig() (bool, oauth2.Config, *gooidc.IDTokenVerifier) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled, p.oauth2, p.verifier
}

// HandleLogin redirects to the identity provider's consent screen.
func (p *OAuthProvider) HandleLogin(w http.ResponseWriter, r *http.Request) {
	enabled, cfg, _ := p.getConfig()
	if !enabled {
		http.NotFound(w, r)
		return
	}
	state, err := generateState()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: state, Path: "/", MaxAge: 300, HttpOnly: true, Secure: r.TLS != nil})
	http.Redirect(w, r, cfg.AuthCodeURL(state), http.StatusFound)
}

// Identity is what a successful callback yields about the operator.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// HandleCallback verifies the IdP's response and returns the operator's identity.
func (p *OAuthProvider) HandleCallback(w http.ResponseWriter, r *http.Request) (Identity, error) {
	enabled, cfg, verifier := p.getConfig()
	if !enabled {
		return Identity{}, fmt.Errorf("creds: oidc disabled")
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value != r.URL.Query().Get("state") {
		return Identity{}, fmt.Errorf("creds: invalid oauth state")
	}

	token, err := cfg.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		return Identity{}, fmt.Errorf("creds: token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return Identity{}, fmt.Errorf("creds: missing id_token")
	}

	idToken, err := verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("creds: verifying id_token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Sub   string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("creds: invalid claims: %w", err)
	}

	return Identity{Subject: claims.Sub, Email: claims.Email, Name: claims.Name}, nil
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
