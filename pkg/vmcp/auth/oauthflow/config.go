// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauthflow

import (
	"fmt"
	"net/url"
)

// Config describes how to run the authorization code flow for one upstream
// server that rejected a request with 401 and advertised OAuth discovery
// metadata.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	UsePKCE      bool
	CallbackPort int
	OAuthParams  map[string]string
}

// NewConfig validates and constructs a Config for a manually supplied
// (non-dynamically-registered) OAuth client.
func NewConfig(clientID, clientSecret, authURL, tokenURL string, scopes []string, usePKCE bool, callbackPort int, oauthParams map[string]string) (*Config, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if authURL == "" {
		return nil, fmt.Errorf("authorization_url is required")
	}
	if tokenURL == "" {
		return nil, fmt.Errorf("token_url is required")
	}
	if err := validateEndpointURL(authURL); err != nil {
		return nil, fmt.Errorf("invalid authorization_url: %w", err)
	}
	if err := validateEndpointURL(tokenURL); err != nil {
		return nil, fmt.Errorf("invalid token_url: %w", err)
	}

	return &Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      authURL,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		UsePKCE:      usePKCE,
		CallbackPort: callbackPort,
		OAuthParams:  oauthParams,
	}, nil
}

func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint URL must have a host")
	}
	return nil
}

// AuthorizationURL builds the authorization redirect URL the caller's
// browser is sent to, embedding state and (when UsePKCE) the PKCE
// challenge.
func (c *Config) AuthorizationURL(state string, pkce *PKCEParams) (string, error) {
	u, err := url.Parse(c.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid authorization URL: %w", err)
	}

	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURL)
	q.Set("state", state)
	if len(c.Scopes) > 0 {
		q.Set("scope", joinScopes(c.Scopes))
	}
	if c.UsePKCE && pkce != nil {
		q.Set("code_challenge", pkce.CodeChallenge)
		q.Set("code_challenge_method", "S256")
	}
	for k, v := range c.OAuthParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
