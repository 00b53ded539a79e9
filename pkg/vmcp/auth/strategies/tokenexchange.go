// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	vmcpauth "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/health"
)

const grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

// EnvReader reads a single environment variable. Satisfied by
// *github.com/stacklok/toolhive-core/env.OSReader in production and a mock
// in tests.
type EnvReader interface {
	Getenv(key string) string
}

// exchangeKey identifies one distinct backend token-exchange configuration,
// used to cache the exchange parameters (client ID, token URL, scopes) — never
// the exchanged access token itself, which is always minted fresh from the
// caller's current identity token.
type exchangeKey struct {
	tokenURL string
	clientID string
	audience string
	scopes   string
}

// TokenExchangeStrategy performs an RFC 8693 token exchange, swapping the
// downstream caller's identity token for a backend-scoped access token.
type TokenExchangeStrategy struct {
	env EnvReader

	mu              sync.RWMutex
	exchangeConfigs map[exchangeKey]*clientcredentials.Config
}

func NewTokenExchangeStrategy(env EnvReader) *TokenExchangeStrategy {
	return &TokenExchangeStrategy{
		env:             env,
		exchangeConfigs: make(map[exchangeKey]*clientcredentials.Config),
	}
}

func (*TokenExchangeStrategy) Name() string { return types.StrategyTypeTokenExchange }

func (s *TokenExchangeStrategy) Validate(cfg *types.BackendAuthStrategy) error {
	if cfg == nil || cfg.TokenExchange == nil {
		return fmt.Errorf("token exchange strategy requires token_exchange config")
	}
	if cfg.TokenExchange.TokenURL == "" {
		return fmt.Errorf("token exchange strategy requires a token_url")
	}
	return nil
}

func (s *TokenExchangeStrategy) Authenticate(ctx context.Context, req *http.Request, cfg *types.BackendAuthStrategy) error {
	if health.IsHealthCheck(ctx) {
		return nil
	}
	if err := s.Validate(cfg); err != nil {
		return err
	}
	tx := cfg.TokenExchange

	identity := vmcpauth.IdentityFromContext(ctx)
	if identity == nil || identity.Token == "" {
		return fmt.Errorf("token exchange strategy requires a caller identity in context")
	}

	clientSecret := tx.ClientSecret
	if clientSecret == "" && tx.ClientSecretEnv != "" {
		clientSecret = s.env.Getenv(tx.ClientSecretEnv)
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeTokenExchange)
	form.Set("subject_token", identity.Token)
	form.Set("subject_token_type", subjectTokenType(tx))
	if tx.Audience != "" {
		form.Set("audience", tx.Audience)
	}
	if len(tx.Scopes) > 0 {
		form.Set("scope", strings.Join(tx.Scopes, " "))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tx.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build token exchange request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if tx.ClientID != "" {
		httpReq.SetBasicAuth(tx.ClientID, clientSecret)
	}

	s.cacheConfig(tx)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	token, err := decodeTokenResponse(resp)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func subjectTokenType(tx *types.TokenExchangeConfig) string {
	if tx.SubjectTokenType != "" {
		return tx.SubjectTokenType
	}
	return "urn:ietf:params:oauth:token-type:access_token"
}

func (s *TokenExchangeStrategy) cacheConfig(tx *types.TokenExchangeConfig) {
	key := exchangeKey{
		tokenURL: tx.TokenURL,
		clientID: tx.ClientID,
		audience: tx.Audience,
		scopes:   strings.Join(tx.Scopes, ","),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exchangeConfigs[key]; ok {
		return
	}
	s.exchangeConfigs[key] = &clientcredentials.Config{
		ClientID: tx.ClientID,
		TokenURL: tx.TokenURL,
		Scopes:   tx.Scopes,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func decodeTokenResponse(resp *http.Response) (string, error) {
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token exchange response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token exchange response did not include an access_token")
	}
	return body.AccessToken, nil
}
