// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/stacklok/vmcp-gateway/pkg/logger"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	internalbk "github.com/stacklok/vmcp-gateway/pkg/vmcp/session/internal/backend"
)

const (
	defaultMaxBackendInitConcurrency = 8
	defaultBackendInitTimeout        = 30 * time.Second
)

// Factory builds a MultiSession from the set of backends a client's vMCP
// instance composes. Each backend is dialled independently and in parallel;
// a backend that fails to connect or times out is simply absent from the
// resulting session rather than failing the whole request (spec's
// partial-initialization tolerance).
type Factory interface {
	MakeSession(ctx context.Context, identity *auth.Identity, backends []*vmcp.Backend) (MultiSession, error)
}

// Option configures a defaultMultiSessionFactory at construction time.
type Option func(*defaultMultiSessionFactory)

// WithBackendInitTimeout bounds how long MakeSession waits for any single
// backend to finish connecting before treating it as failed.
func WithBackendInitTimeout(d time.Duration) Option {
	return func(f *defaultMultiSessionFactory) { f.backendInitTimeout = d }
}

// WithMaxBackendInitConcurrency bounds how many backends are dialled at
// once, so a session with dozens of backends doesn't open them all in a
// single burst.
func WithMaxBackendInitConcurrency(n int) Option {
	return func(f *defaultMultiSessionFactory) {
		if n > 0 {
			f.maxConcurrency = n
		}
	}
}

type defaultMultiSessionFactory struct {
	connector          backendConnector
	maxConcurrency     int
	backendInitTimeout time.Duration
}

// NewSessionFactory returns the production Factory, dialling backends over
// their real configured transport and authenticating outgoing calls via
// authRegistry.
func NewSessionFactory(authRegistry auth.OutgoingAuthRegistry, opts ...Option) Factory {
	return newSessionFactoryWithConnector(defaultConnector(authRegistry, nil), opts...)
}

// newSessionFactoryWithConnector is the seam tests substitute a fake
// connector through; production code should use NewSessionFactory.
func newSessionFactoryWithConnector(connector backendConnector, opts ...Option) *defaultMultiSessionFactory {
	f := &defaultMultiSessionFactory{
		connector:          connector,
		maxConcurrency:     defaultMaxBackendInitConcurrency,
		backendInitTimeout: defaultBackendInitTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type backendInitResult struct {
	backendID string
	target    *vmcp.BackendTarget
	conn      internalbk.Session
	caps      *vmcp.CapabilityList
}

// MakeSession connects to every backend in parallel (bounded by
// maxConcurrency), folds each success into a fresh MultiSession, and
// returns it even if every backend failed — an empty, but valid, session.
func (f *defaultMultiSessionFactory) MakeSession(ctx context.Context, identity *auth.Identity, backends []*vmcp.Backend) (MultiSession, error) {
	sess := newDefaultMultiSession()

	valid := sortBackendsByID(backends)
	if len(valid) == 0 {
		return sess, nil
	}

	results := make(chan backendInitResult, len(valid))
	sem := make(chan struct{}, f.maxConcurrency)
	var wg sync.WaitGroup

	for _, b := range valid {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			backendCtx, cancel := context.WithTimeout(ctx, f.backendInitTimeout)
			defer cancel()

			target := vmcp.BackendToTarget(b)
			conn, caps, err := f.connector(backendCtx, target, identity)
			if err != nil {
				logger.Warnw("backend initialization failed, continuing without it", "backend", b.ID, "error", err)
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
			if conn == nil {
				// Connector intentionally skipped this backend (no
				// capabilities to merge); nothing leaked, nothing to do.
				return
			}
			if caps == nil {
				// A connection was opened but init produced nothing usable
				// — close it so it doesn't leak.
				_ = conn.Close()
				return
			}
			results <- backendInitResult{backendID: b.ID, target: target, conn: conn, caps: caps}
		}()
	}

	wg.Wait()
	close(results)

	for r := range results {
		sess.addBackendResult(r.backendID, r.conn, r.caps, r.target)
	}

	return sess, nil
}
