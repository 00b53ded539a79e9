// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package strategies implements the concrete outgoing authentication
// strategies: unauthenticated, static header injection, and OAuth2 token
// exchange.
package strategies

import (
	"context"
	"net/http"

	authtypes "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
)

// UnauthenticatedStrategy is a no-op: it never modifies the request.
type UnauthenticatedStrategy struct{}

func NewUnauthenticatedStrategy() *UnauthenticatedStrategy {
	return &UnauthenticatedStrategy{}
}

func (*UnauthenticatedStrategy) Name() string { return authtypes.StrategyTypeUnauthenticated }

func (*UnauthenticatedStrategy) Authenticate(context.Context, *http.Request, *authtypes.BackendAuthStrategy) error {
	return nil
}
