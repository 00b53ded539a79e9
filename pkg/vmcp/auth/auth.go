// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth provides the outgoing authentication seam used by the
// session client to attach credentials to requests sent to upstream
// backends. Strategies are registered by name (matching a
// types.BackendAuthStrategy.Type) and resolved per-call.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	authtypes "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
)

// Strategy authenticates a single outgoing HTTP request bound for a
// backend. cfg is the backend's own auth configuration; a strategy ignores
// the fields that don't belong to its Type.
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, req *http.Request, cfg *authtypes.BackendAuthStrategy) error
}

// OutgoingAuthRegistry looks up a Strategy by name.
type OutgoingAuthRegistry interface {
	RegisterStrategy(name string, strategy Strategy) error
	GetStrategy(name string) (Strategy, error)
}

// DefaultOutgoingAuthRegistry is a concurrency-safe, in-memory
// OutgoingAuthRegistry.
type DefaultOutgoingAuthRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewDefaultOutgoingAuthRegistry returns an empty registry.
func NewDefaultOutgoingAuthRegistry() *DefaultOutgoingAuthRegistry {
	return &DefaultOutgoingAuthRegistry{strategies: make(map[string]Strategy)}
}

func (r *DefaultOutgoingAuthRegistry) RegisterStrategy(name string, strategy Strategy) error {
	if name == "" {
		return fmt.Errorf("strategy name cannot be empty")
	}
	if strategy == nil {
		return fmt.Errorf("strategy cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.strategies[name] = strategy
	return nil
}

func (r *DefaultOutgoingAuthRegistry) GetStrategy(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategy, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for %q", name)
	}
	return strategy, nil
}
