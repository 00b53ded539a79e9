// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package strategies

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/health"
)

// HeaderInjectionStrategy sets one static header (typically an API key) on
// every outgoing request to a backend.
type HeaderInjectionStrategy struct{}

func NewHeaderInjectionStrategy() *HeaderInjectionStrategy {
	return &HeaderInjectionStrategy{}
}

func (*HeaderInjectionStrategy) Name() string { return types.StrategyTypeHeaderInjection }

func (*HeaderInjectionStrategy) Authenticate(ctx context.Context, req *http.Request, cfg *types.BackendAuthStrategy) error {
	if health.IsHealthCheck(ctx) {
		return nil
	}
	if cfg == nil || cfg.HeaderInjection == nil {
		return fmt.Errorf("header injection strategy requires header_injection config")
	}
	hi := cfg.HeaderInjection
	if hi.HeaderName == "" {
		return fmt.Errorf("header injection strategy requires a header name")
	}
	req.Header.Set(hi.HeaderName, hi.HeaderValue)
	return nil
}
