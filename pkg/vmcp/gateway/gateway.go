// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the Session Manager (spec.md §4.11): it maps
// each downstream session to the vMCP instance (Composer + Router + backend
// connections) serving it, building that instance lazily on first use and
// tearing it down when the downstream transport closes.
package gateway

import (
	"context"
	"errors"
	"sync"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/logger"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/oauthflow"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/composer"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/config"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/router"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/sandbox"
	vmcpsession "github.com/stacklok/vmcp-gateway/pkg/vmcp/session"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/toolengine"
)

// Instance is one user's fully-composed, fully-connected vMCP: the set of
// upstream connections it owns, the Composition built from them, and the
// Router that dispatches calls across it.
type Instance struct {
	Config      *config.Config
	Composition *composer.Composition
	Router      *router.Router
	Clients     *vmcpsession.ClientManager
	Cache       *composer.MapCapabilityCache

	mu         sync.Mutex
	notifiers  map[string]*vmcpsession.NotificationForwarder
}

// Manager tracks the live Instance bound to each downstream session, per
// spec.md's downstream_session_id -> Composer association.
type Manager struct {
	authRegistry auth.OutgoingAuthRegistry
	sandboxRules func(vmcpID string) *sandbox.PolicyRuleSet
	oauth        *oauthflow.Manager

	mu        sync.Mutex
	instances map[string]*Instance
}

// New returns an empty Manager. sandboxRules computes the PolicyRuleSet for
// a given vMCP ID when its config enables the sandbox; it may be nil if no
// instance in this deployment ever enables one. oauth may be nil, in which
// case a backend that fails to connect with AuthenticationRequired is still
// exposed through InstallAuthPending, just without a redirect URL to act on.
func New(authRegistry auth.OutgoingAuthRegistry, sandboxRules func(vmcpID string) *sandbox.PolicyRuleSet, oauth *oauthflow.Manager) *Manager {
	return &Manager{authRegistry: authRegistry, sandboxRules: sandboxRules, oauth: oauth, instances: make(map[string]*Instance)}
}

// Open builds (or returns the already-built) Instance for downstreamSessionID,
// connecting every selected server and composing cfg on first use.
func (m *Manager) Open(ctx context.Context, downstreamSessionID string, cfg *config.Config, identity *auth.Identity) (*Instance, error) {
	m.mu.Lock()
	if existing, ok := m.instances[downstreamSessionID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	instance, err := m.build(ctx, cfg, identity)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.instances[downstreamSessionID]; ok {
		// Lost a race building the same session concurrently: keep the
		// winner, tear down the instance we just built.
		_ = instance.Clients.Stop(ctx)
		return existing, nil
	}
	m.instances[downstreamSessionID] = instance
	return instance, nil
}

func (m *Manager) build(ctx context.Context, cfg *config.Config, identity *auth.Identity) (*Instance, error) {
	if cfg == nil {
		return nil, vmcperrors.NewConfigError("nil VMCPConfig", nil)
	}

	clients := vmcpsession.NewClientManager(m.authRegistry, m.oauth)
	cache := composer.NewMapCapabilityCache()

	for i := range cfg.SelectedServers {
		server := &cfg.SelectedServers[i]
		target := serverToTarget(server)
		_, caps, err := clients.ConnectServer(ctx, target, identity)
		if err != nil {
			if authURL, ok := authURLFromError(err); ok {
				logger.Warnw("selected server requires authentication, exposing it as auth-pending",
					"server_id", server.ServerID, "error", err)
				caps = clients.InstallAuthPending(ctx, server.ServerID, cfg.SelectedTools[server.ServerID], authURL)
				cache.Put(server.ServerID, caps)
				continue
			}
			logger.Warnw("failed to connect selected server, composing without it", "server_id", server.ServerID, "error", err)
			continue
		}
		cache.Put(server.ServerID, caps)
	}

	composition := composer.New(cache).Compose(cfg)

	var pythonRunner *toolengine.PythonRunner
	if cfg.Metadata.SandboxEnabled {
		compiler := sandbox.NewPolicyCompiler()
		var rules *sandbox.PolicyRuleSet
		if m.sandboxRules != nil {
			rules = m.sandboxRules(cfg.ID)
		}
		pythonRunner = toolengine.NewPythonRunner(cfg.ID, compiler, rules, sandbox.InterpreterPath(cfg.ID))
	}

	r := router.New(composition, nil, router.LoggingSink{})
	engine := toolengine.New(composition, cfg.EnvironmentVariables, r, pythonRunner)
	r.SetEngine(engine)

	for i := range cfg.SelectedServers {
		server := &cfg.SelectedServers[i]
		if conn := clients.Lookup(server.ServerID); conn != nil {
			r.RegisterSession(server.ServerID, conn)
		}
	}

	return &Instance{
		Config:      cfg,
		Composition: composition,
		Router:      r,
		Clients:     clients,
		Cache:       cache,
		notifiers:   make(map[string]*vmcpsession.NotificationForwarder),
	}, nil
}

// WireNotifications installs a notification forwarder for backendID so
// upstream notifications reach downstream through notifier.
func (inst *Instance) WireNotifications(backendID string, notifier vmcpsession.DownstreamNotifier) *vmcpsession.NotificationForwarder {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	forwarder := vmcpsession.NewNotificationForwarder(backendID, notifier)
	inst.notifiers[backendID] = forwarder
	return forwarder
}

// Close tears down downstreamSessionID's Instance, stopping every backend
// connection it owns. Closing an unknown session is a no-op.
func (m *Manager) Close(ctx context.Context, downstreamSessionID string) error {
	m.mu.Lock()
	instance, ok := m.instances[downstreamSessionID]
	if ok {
		delete(m.instances, downstreamSessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return instance.Clients.Stop(ctx)
}

// Count returns the number of currently open instances.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// authURLFromError reports whether err is an AuthenticationRequired failure
// and, if so, the redirect URL ClientManager.ConnectServer/withAuthURL
// attached to it (empty when oauth isn't configured for the backend).
func authURLFromError(err error) (string, bool) {
	if !vmcperrors.Is(err, vmcperrors.ErrAuthenticationRequired) {
		return "", false
	}
	var ge *vmcperrors.Error
	if errors.As(err, &ge) {
		return ge.AuthURL, true
	}
	return "", true
}

func serverToTarget(server *config.UpstreamServerConfig) *vmcp.BackendTarget {
	target := &vmcp.BackendTarget{
		WorkloadID:   server.ServerID,
		WorkloadName: server.Name,
		BaseURL:      server.URL,
		TransportType: string(server.Transport),
	}
	if server.Transport == config.TransportStdio {
		target.BaseURL = server.Command
		for _, arg := range server.Args {
			target.BaseURL += " " + arg
		}
	}
	if server.Auth != nil {
		target.AuthConfig = server.Auth.ToStrategy()
		target.AuthStrategy = target.AuthConfig.Type
	}
	return target
}
