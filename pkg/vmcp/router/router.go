// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package router implements the Execution Router (spec.md §4.8): given a
// composed capability name, decide whether it dispatches to a custom tool
// engine or to an upstream backend, and perform the call.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/logger"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/composer"
)

// BackendSession is the subset of a live upstream connection the router
// needs to dispatch a call. vmcp/session.ClientManager's connections satisfy
// this structurally without router importing that package's internal types.
type BackendSession interface {
	CallTool(ctx context.Context, toolName string, arguments map[string]any, meta map[string]any) (*vmcp.ToolCallResult, error)
	ReadResource(ctx context.Context, uri string) (*vmcp.ResourceReadResult, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]any) (*vmcp.PromptGetResult, error)
	SessionID() string
	Close() error
}

// CustomToolEngine executes one custom tool/prompt kind (prompt, HTTP,
// python). The toolengine package provides concrete implementations.
type CustomToolEngine interface {
	CallTool(ctx context.Context, tool string, arguments map[string]any, environment map[string]any) (*vmcp.ToolCallResult, error)
	GetPrompt(ctx context.Context, prompt string, arguments map[string]any) (*vmcp.PromptGetResult, error)
	ReadResource(ctx context.Context, uri string) (*vmcp.ResourceReadResult, error)
}

// OperationsSink records a fire-and-forget audit trail of dispatched calls.
// Failures logging a record never fail the call itself.
type OperationsSink interface {
	RecordToolCall(ctx context.Context, toolName string, backendID string, isError bool)
}

// noopSink is used when no sink is configured.
type noopSink struct{}

func (noopSink) RecordToolCall(context.Context, string, string, bool) {}

// Router dispatches composed capability names to the backend or engine that
// serves them, using the routing table a Composer produced.
type Router struct {
	mu          sync.RWMutex
	composition *composer.Composition
	sessions    map[string]BackendSession // serverID -> live connection
	engine      CustomToolEngine
	sink        OperationsSink
}

// New returns a Router dispatching through composition's routing tables.
// engine may be nil until the toolengine is wired; calls to custom
// tools/prompts will fail with a clear error until then.
func New(composition *composer.Composition, engine CustomToolEngine, sink OperationsSink) *Router {
	if sink == nil {
		sink = noopSink{}
	}
	return &Router{
		composition: composition,
		sessions:    make(map[string]BackendSession),
		engine:      engine,
		sink:        sink,
	}
}

// SetEngine wires (or replaces) the custom tool engine after construction,
// used when the engine itself needs a reference to this Router to resolve
// upstream @tool./@resource./@prompt. directives from within a custom
// tool's template body.
func (r *Router) SetEngine(engine CustomToolEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine = engine
}

// RegisterSession associates a live upstream connection with serverID so
// subsequent calls dispatching there don't need to re-resolve it.
func (r *Router) RegisterSession(serverID string, sess BackendSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[serverID] = sess
}

func (r *Router) sessionFor(serverID string) (BackendSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[serverID]
	if !ok {
		return nil, vmcperrors.NewUpstreamFailureError("no live connection for server "+serverID, nil)
	}
	return sess, nil
}

func (r *Router) currentEngine() CustomToolEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine
}

// CallTool dispatches name: an upstream route first, matching the composer's
// first-wins precedence, then a custom tool or (when the composition has the
// sandbox enabled) the sandbox execute_bash tool, both served by the engine.
// meta carries the downstream caller's request-level metadata (notably
// `_meta.progressToken`), forwarded to an upstream session so a caller's
// progress token is what it sees reported back, not one synthesized here.
func (r *Router) CallTool(ctx context.Context, name string, arguments map[string]any, meta map[string]any) (*vmcp.ToolCallResult, error) {
	result, backendID, err := r.dispatchTool(ctx, name, arguments, meta)
	r.sink.RecordToolCall(ctx, name, backendID, err != nil || (result != nil && result.IsError))
	return result, err
}

func (r *Router) dispatchTool(ctx context.Context, name string, arguments, meta map[string]any) (*vmcp.ToolCallResult, string, error) {
	if route, ok := r.composition.ToolRoutes[name]; ok {
		sess, err := r.sessionFor(route.ServerID)
		if err != nil {
			return nil, route.ServerID, err
		}
		result, err := sess.CallTool(ctx, route.OriginalName, arguments, meta)
		if result, recovered := authRecoveryResult(route.ServerID, err); recovered {
			return result, route.ServerID, nil
		}
		return result, route.ServerID, err
	}

	_, isCustom := r.composition.CustomTools[name]
	isSandbox := r.composition.SandboxEnabled && name == composer.SandboxToolName()
	if isCustom || isSandbox {
		engine := r.currentEngine()
		if engine == nil {
			return nil, "", vmcperrors.NewInternalError("custom tool engine not configured", nil)
		}
		result, err := engine.CallTool(ctx, name, arguments, meta)
		return result, "", err
	}

	return nil, "", vmcperrors.NewInvalidArgumentError("unknown tool "+name, nil)
}

// authRecoveryResult converts an AuthenticationRequired failure into a
// successful, structured "please authenticate" ToolCallResult instead of
// propagating the error: the downstream caller sees a normal result with
// isError=true and an auth URL to act on, rather than the call failing
// outright. Any other error (or a nil error) is left for the caller to
// handle as-is.
func authRecoveryResult(backendID string, err error) (*vmcp.ToolCallResult, bool) {
	if err == nil {
		return nil, false
	}
	var ge *vmcperrors.Error
	if !errors.As(err, &ge) || ge.Type != vmcperrors.ErrAuthenticationRequired {
		return nil, false
	}

	text := fmt.Sprintf("Server %s is unauthenticated.", backendID)
	if ge.AuthURL != "" {
		text = fmt.Sprintf("Server %s is unauthenticated. Please authenticate using: %s", backendID, ge.AuthURL)
	}
	return &vmcp.ToolCallResult{
		IsError: true,
		Content: []vmcp.Content{{Type: "text", Text: text}},
	}, true
}

// GetPrompt dispatches name: an upstream prompt route first, then a custom
// prompt, then a custom tool served as a prompt by the engine. The
// composer's default vmcp_help prompt has no handler here, so getting it
// fails as an unknown prompt.
func (r *Router) GetPrompt(ctx context.Context, name string, arguments map[string]any) (*vmcp.PromptGetResult, error) {
	if route, ok := r.composition.PromptRoutes[name]; ok {
		sess, err := r.sessionFor(route.ServerID)
		if err != nil {
			return nil, err
		}
		return sess.GetPrompt(ctx, route.OriginalName, arguments)
	}

	_, isPrompt := r.composition.CustomPrompts[name]
	_, isTool := r.composition.CustomTools[name]
	if isPrompt || isTool {
		engine := r.currentEngine()
		if engine == nil {
			return nil, vmcperrors.NewInternalError("custom tool engine not configured", nil)
		}
		return engine.GetPrompt(ctx, name, arguments)
	}

	return nil, vmcperrors.NewInvalidArgumentError("unknown prompt "+name, nil)
}

// ReadResource dispatches uri. A `custom:` scheme is served locally by the
// toolengine's static content store; anything else is a composed
// `<server>:<uri>` reference routed to the owning backend.
func (r *Router) ReadResource(ctx context.Context, uri string) (*vmcp.ResourceReadResult, error) {
	if strings.HasPrefix(uri, "custom:") {
		engine := r.currentEngine()
		if engine == nil {
			return nil, vmcperrors.NewInternalError("custom tool engine not configured", nil)
		}
		return engine.ReadResource(ctx, uri)
	}

	route, ok := r.composition.ResourceRoutes[uri]
	if !ok {
		return nil, vmcperrors.NewInvalidArgumentError("unknown resource "+uri, nil)
	}
	sess, err := r.sessionFor(route.ServerID)
	if err != nil {
		return nil, err
	}
	return sess.ReadResource(ctx, route.OriginalURI)
}

// LoggingSink is an OperationsSink that writes one structured log line per
// dispatched tool call, used when no richer audit backend is configured.
type LoggingSink struct{}

// RecordToolCall implements OperationsSink.
func (LoggingSink) RecordToolCall(_ context.Context, toolName, backendID string, isError bool) {
	logger.Infow("tool call dispatched", "tool", toolName, "backend", backendID, "error", isError)
}
