// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/logger"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/oauthflow"
	internalbk "github.com/stacklok/vmcp-gateway/pkg/vmcp/session/internal/backend"
)

const (
	connectTimeout    = 30 * time.Second
	disconnectTimeout = 5 * time.Second
	stopTimeout       = 10 * time.Second
)

// ClientManager owns the set of individually-managed backend connections
// for one long-lived vMCP instance — as opposed to Factory, which dials a
// fixed batch of backends once for a single client session. A dynamic
// registry (a custom tool engine registering a new upstream at runtime, or
// a health probe recycling a failed one) goes through ClientManager instead
// of re-running MakeSession.
type ClientManager struct {
	connector backendConnector
	oauth     *oauthflow.Manager

	mu      sync.Mutex
	handles map[string]*managedConnection
}

type managedConnection struct {
	target *vmcp.BackendTarget
	runner *Runner
}

// NewClientManager returns a ClientManager that dials backends through
// authRegistry the same way Factory does. oauth may be nil, in which case a
// 401 is surfaced as a plain AuthenticationRequired error with no URL.
func NewClientManager(authRegistry auth.OutgoingAuthRegistry, oauth *oauthflow.Manager) *ClientManager {
	return &ClientManager{
		connector: defaultConnector(authRegistry, oauth),
		oauth:     oauth,
		handles:   make(map[string]*managedConnection),
	}
}

// ConnectServer dials target and registers its connection under
// target.WorkloadID, replacing any connection already registered there.
// The dial is bounded to connectTimeout regardless of ctx's own deadline.
func (m *ClientManager) ConnectServer(ctx context.Context, target *vmcp.BackendTarget, identity *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, caps, err := m.connector(dialCtx, target, identity)
	if err != nil {
		return nil, nil, m.withAuthURL(target, err)
	}
	if conn == nil {
		return nil, nil, vmcperrors.NewUpstreamFailureError(fmt.Sprintf("backend %q produced no connection", target.WorkloadID), nil)
	}

	m.mu.Lock()
	if existing, ok := m.handles[target.WorkloadID]; ok {
		_ = existing.runner.Close()
	}
	m.handles[target.WorkloadID] = &managedConnection{
		target: target,
		runner: NewRunner(ctx, target.WorkloadID, conn),
	}
	m.mu.Unlock()

	return conn, caps, nil
}

// withAuthURL enriches a connect failure classified as AuthenticationRequired
// with a freshly started OAuth flow's redirect URL, when the backend has
// OAuth configured. Any other failure (or a backend with no OAuth strategy)
// passes through unchanged.
func (m *ClientManager) withAuthURL(target *vmcp.BackendTarget, err error) error {
	if m.oauth == nil || target == nil || target.AuthConfig == nil || target.AuthConfig.OAuth == nil {
		return err
	}
	if !vmcperrors.Is(err, vmcperrors.ErrAuthenticationRequired) {
		return err
	}

	redirectURL, _, beginErr := m.oauth.Begin(target.WorkloadID, oauthflowConfigFrom(target.AuthConfig.OAuth))
	if beginErr != nil {
		logger.Warnw("failed to start oauth flow for backend", "backend", target.WorkloadID, "error", beginErr)
		return err
	}
	return vmcperrors.NewAuthenticationRequiredErrorWithURL(
		fmt.Sprintf("backend %q requires authentication", target.WorkloadID), redirectURL, err)
}

// InstallAuthPending registers a stub connection for a backend that failed
// to connect, so its declared tools still compose and route rather than
// vanishing: every call against it returns a "please authenticate" result
// carrying authURL instead of propagating the connect failure. Returns the
// synthesized capability list the composer should cache for serverID.
func (m *ClientManager) InstallAuthPending(ctx context.Context, serverID string, toolNames []string, authURL string) *vmcp.CapabilityList {
	conn := newAuthPendingSession(serverID, authURL)

	m.mu.Lock()
	if existing, ok := m.handles[serverID]; ok {
		_ = existing.runner.Close()
	}
	m.handles[serverID] = &managedConnection{
		target: &vmcp.BackendTarget{WorkloadID: serverID},
		runner: NewRunner(ctx, serverID, conn),
	}
	m.mu.Unlock()

	caps := &vmcp.CapabilityList{}
	for _, name := range toolNames {
		caps.Tools = append(caps.Tools, vmcp.Tool{Name: name, BackendID: serverID})
	}
	return caps
}

// DisconnectServer tears down the connection registered under backendID, if
// any, within disconnectTimeout.
func (m *ClientManager) DisconnectServer(ctx context.Context, backendID string) error {
	m.mu.Lock()
	handle, ok := m.handles[backendID]
	if ok {
		delete(m.handles, backendID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- handle.runner.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(disconnectTimeout):
		return vmcperrors.NewOperationTimedOutError(fmt.Sprintf("disconnecting backend %q timed out", backendID), nil)
	case <-ctx.Done():
		return vmcperrors.NewOperationCancelledError(fmt.Sprintf("disconnecting backend %q cancelled", backendID), ctx.Err())
	}
}

// Stop tears down every managed connection concurrently within a single
// stopTimeout budget, logging (not failing on) any individual error so one
// stuck backend never blocks the rest of a shutdown.
func (m *ClientManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*managedConnection, 0, len(m.handles))
	for id, h := range m.handles {
		handles = append(handles, h)
		delete(m.handles, id)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if err := h.runner.Close(); err != nil {
				logger.Warnw("error closing backend during manager stop", "backend", h.target.WorkloadID, "error", err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return vmcperrors.NewOperationTimedOutError("stopping backend connections timed out", ctx.Err())
	}
}

// Count returns the number of currently registered connections.
func (m *ClientManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Lookup returns the live connection registered under backendID, or nil if
// none is currently connected. Used to re-attach a Router's dispatch table
// to connections this manager already established.
func (m *ClientManager) Lookup(backendID string) internalbk.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.handles[backendID]
	if !ok {
		return nil
	}
	return handle.runner.conn
}
