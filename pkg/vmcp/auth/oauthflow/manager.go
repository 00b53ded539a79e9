// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauthflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Pending tracks one in-flight authorization attempt between redirecting
// the caller's browser and receiving the callback.
type Pending struct {
	UpstreamID string
	Config     *Config
	PKCE       *PKCEParams
	State      string
	CreatedAt  time.Time
}

// Manager tracks pending OAuth flows keyed by state and exchanges the
// callback's authorization code for tokens.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Pending
	ttl     time.Duration
}

// NewManager returns a Manager whose pending entries expire after ttl. A
// ttl of zero disables expiry (entries live until Complete or Cancel).
func NewManager(ttl time.Duration) *Manager {
	return &Manager{pending: make(map[string]*Pending), ttl: ttl}
}

// Begin starts a new authorization attempt for upstreamID and returns the
// URL the caller should be redirected to.
func (m *Manager) Begin(upstreamID string, cfg *Config) (redirectURL string, state string, err error) {
	pkce, err := GeneratePKCEParams()
	if err != nil {
		return "", "", err
	}
	state, err = GenerateState()
	if err != nil {
		return "", "", err
	}

	redirectURL, err = cfg.AuthorizationURL(state, pkce)
	if err != nil {
		return "", "", err
	}

	m.mu.Lock()
	m.pending[state] = &Pending{
		UpstreamID: upstreamID,
		Config:     cfg,
		PKCE:       pkce,
		State:      state,
		CreatedAt:  time.Now(),
	}
	m.mu.Unlock()

	return redirectURL, state, nil
}

// Complete exchanges the authorization code delivered on the callback for
// an access token, consuming the pending entry.
func (m *Manager) Complete(ctx context.Context, state, code string) (*oauth2.Token, string, error) {
	m.mu.Lock()
	p, ok := m.pending[state]
	if ok {
		delete(m.pending, state)
	}
	m.mu.Unlock()

	if !ok {
		return nil, "", fmt.Errorf("no pending authorization for state %q", state)
	}
	if m.ttl > 0 && time.Since(p.CreatedAt) > m.ttl {
		return nil, "", fmt.Errorf("authorization attempt for %q expired", p.UpstreamID)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     p.Config.ClientID,
		ClientSecret: p.Config.ClientSecret,
		RedirectURL:  p.Config.RedirectURL,
		Scopes:       p.Config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.Config.AuthURL,
			TokenURL: p.Config.TokenURL,
		},
	}

	opts := []oauth2.AuthCodeOption{}
	if p.Config.UsePKCE {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", p.PKCE.CodeVerifier))
	}

	token, err := oauthCfg.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("token exchange failed: %w", err)
	}
	return token, p.UpstreamID, nil
}

// Cancel discards a pending authorization attempt without completing it.
func (m *Manager) Cancel(state string) {
	m.mu.Lock()
	delete(m.pending, state)
	m.mu.Unlock()
}

// ParseCallback extracts state/code/error from the callback redirect
// request's query string.
func ParseCallback(req *http.Request) (state, code string, callbackErr error) {
	q := req.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = errParam
		}
		return "", "", fmt.Errorf("authorization server returned error: %s", desc)
	}
	return q.Get("state"), q.Get("code"), nil
}

// CallbackURL builds the localhost redirect URI the authorization server
// sends the browser back to.
func CallbackURL(port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return (&url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port), Path: path}).String()
}
