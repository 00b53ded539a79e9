// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"

	"github.com/stacklok/vmcp-gateway/pkg/logger"
	internalbk "github.com/stacklok/vmcp-gateway/pkg/vmcp/session/internal/backend"
)

// Runner keeps one upstream backend connection alive for as long as its
// owning context is open, and guarantees it is closed exactly once —
// either by an explicit Close() call or by the context being cancelled,
// whichever comes first. mcp-go's client is a synchronous, already-open
// handle rather than a Python-style async context manager, so there is no
// nested transport/session scope to hold open in a goroutine; what remains
// of that design is this single cancellation-triggers-teardown guarantee.
type Runner struct {
	conn internalbk.Session

	once   sync.Once
	closed chan struct{}
}

// NewRunner starts watching ctx for cancellation against conn. If ctx is
// cancelled before the caller calls Close, the connection is torn down
// automatically and the cause is logged (cancellation here generally means
// the owning session was abandoned, not an explicit clean shutdown).
func NewRunner(ctx context.Context, backendID string, conn internalbk.Session) *Runner {
	r := &Runner{conn: conn, closed: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			if err := r.Close(); err != nil {
				logger.Warnw("backend connection close failed after context cancellation", "backend", backendID, "error", err)
			}
		case <-r.closed:
		}
	}()
	return r
}

// Close tears down the underlying connection. Safe to call more than once
// and safe to race with the context-cancellation path above.
func (r *Runner) Close() error {
	var err error
	r.once.Do(func() {
		close(r.closed)
		err = r.conn.Close()
	})
	return err
}
