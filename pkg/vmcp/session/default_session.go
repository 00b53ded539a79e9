// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	transportsession "github.com/stacklok/vmcp-gateway/pkg/transport/session"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	internalbk "github.com/stacklok/vmcp-gateway/pkg/vmcp/session/internal/backend"
)

// MultiSession is the downstream-facing handle for one client's view of the
// composed vMCP surface: every capability the session's backends advertised
// (after conflict resolution), plus the per-backend connections needed to
// dispatch calls.
type MultiSession interface {
	transportsession.Session
	Tools() []vmcp.Tool
	Resources() []vmcp.Resource
	Prompts() []vmcp.Prompt
	BackendSessions() map[string]string
	CallTool(ctx context.Context, name string, arguments, meta map[string]any) (*vmcp.ToolCallResult, error)
	ReadResource(ctx context.Context, uri string) (*vmcp.ResourceReadResult, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]any) (*vmcp.PromptGetResult, error)
	WireNotifications(downstream DownstreamNotifier)
	Close() error
}

// notificationSource is implemented by backend connections that can be
// told where to forward their upstream notifications (today: clientSession,
// backed by a real mcp-go client; test doubles typically don't implement
// it, which WireNotifications tolerates).
type notificationSource interface {
	SetNotificationHandler(forwarder *NotificationForwarder)
}

// defaultMultiSession is the default MultiSession implementation: a plain
// in-memory merge of each backend's capabilities, routed back to the
// correct connection by backend ID on every call.
type defaultMultiSession struct {
	transportsession.Session

	mu          sync.RWMutex
	connections map[string]internalbk.Session
	routing     *vmcp.RoutingTable

	tools     []vmcp.Tool
	resources []vmcp.Resource
	prompts   []vmcp.Prompt

	backendSessions map[string]string
}

func newDefaultMultiSession() *defaultMultiSession {
	return newDefaultMultiSessionWithID("")
}

func newDefaultMultiSessionWithID(id string) *defaultMultiSession {
	return &defaultMultiSession{
		Session:         transportsession.NewStreamableSession(id),
		connections:     make(map[string]internalbk.Session),
		routing:         &vmcp.RoutingTable{Tools: map[string]*vmcp.BackendTarget{}, Resources: map[string]*vmcp.BackendTarget{}, Prompts: map[string]*vmcp.BackendTarget{}},
		backendSessions: make(map[string]string),
	}
}

func (s *defaultMultiSession) Tools() []vmcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vmcp.Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

func (s *defaultMultiSession) Resources() []vmcp.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vmcp.Resource, len(s.resources))
	copy(out, s.resources)
	return out
}

func (s *defaultMultiSession) Prompts() []vmcp.Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vmcp.Prompt, len(s.prompts))
	copy(out, s.prompts)
	return out
}

func (s *defaultMultiSession) BackendSessions() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.backendSessions))
	for k, v := range s.backendSessions {
		out[k] = v
	}
	return out
}

func (s *defaultMultiSession) CallTool(ctx context.Context, name string, arguments, meta map[string]any) (*vmcp.ToolCallResult, error) {
	target, conn, err := s.resolve(s.routing.Tools, name)
	if err != nil {
		return nil, err
	}
	return conn.CallTool(ctx, target.GetBackendCapabilityName(name), arguments, meta)
}

func (s *defaultMultiSession) ReadResource(ctx context.Context, uri string) (*vmcp.ResourceReadResult, error) {
	target, conn, err := s.resolve(s.routing.Resources, uri)
	if err != nil {
		return nil, err
	}
	return conn.ReadResource(ctx, target.GetBackendCapabilityName(uri))
}

func (s *defaultMultiSession) GetPrompt(ctx context.Context, name string, arguments map[string]any) (*vmcp.PromptGetResult, error) {
	target, conn, err := s.resolve(s.routing.Prompts, name)
	if err != nil {
		return nil, err
	}
	return conn.GetPrompt(ctx, target.GetBackendCapabilityName(name), arguments)
}

func (s *defaultMultiSession) resolve(table map[string]*vmcp.BackendTarget, name string) (*vmcp.BackendTarget, internalbk.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := table[name]
	if !ok {
		return nil, nil, fmt.Errorf("no backend serves capability %q", name)
	}
	conn, ok := s.connections[target.WorkloadID]
	if !ok {
		return nil, nil, fmt.Errorf("backend %q is not connected", target.WorkloadID)
	}
	return target, conn, nil
}

// WireNotifications installs downstream as the forwarding target for every
// backend connection capable of pushing upstream notifications. Called once
// a session's owner (the gateway's downstream transport) is ready to
// receive them.
func (s *defaultMultiSession) WireNotifications(downstream DownstreamNotifier) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for backendID, conn := range s.connections {
		if src, ok := conn.(notificationSource); ok {
			src.SetNotificationHandler(NewNotificationForwarder(backendID, downstream))
		}
	}
}

// Close tears down every backend connection, collecting (not
// short-circuiting on) every error so one unresponsive backend never masks
// a real close failure on another.
func (s *defaultMultiSession) Close() error {
	s.mu.Lock()
	conns := make([]internalbk.Session, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// addBackendResult folds one backend's successful connection and
// capabilities into the session, skipping any capability name that a
// lexicographically earlier backend ID has already claimed.
func (s *defaultMultiSession) addBackendResult(backendID string, conn internalbk.Session, caps *vmcp.CapabilityList, target *vmcp.BackendTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections[backendID] = conn
	s.backendSessions[backendID] = conn.SessionID()

	for _, t := range caps.Tools {
		if existing, ok := s.routing.Tools[t.Name]; ok && existing.WorkloadID < backendID {
			continue
		}
		s.routing.Tools[t.Name] = backendTargetFor(target, t.Name)
		s.tools = upsertTool(s.tools, t)
	}
	for _, r := range caps.Resources {
		if existing, ok := s.routing.Resources[r.URI]; ok && existing.WorkloadID < backendID {
			continue
		}
		s.routing.Resources[r.URI] = backendTargetFor(target, r.URI)
		s.resources = upsertResource(s.resources, r)
	}
	for _, p := range caps.Prompts {
		if existing, ok := s.routing.Prompts[p.Name]; ok && existing.WorkloadID < backendID {
			continue
		}
		s.routing.Prompts[p.Name] = backendTargetFor(target, p.Name)
		s.prompts = upsertPrompt(s.prompts, p)
	}
}

func backendTargetFor(target *vmcp.BackendTarget, capabilityName string) *vmcp.BackendTarget {
	clone := *target
	clone.OriginalCapabilityName = capabilityName
	return &clone
}

func upsertTool(tools []vmcp.Tool, t vmcp.Tool) []vmcp.Tool {
	for i, existing := range tools {
		if existing.Name == t.Name {
			tools[i] = t
			return tools
		}
	}
	return append(tools, t)
}

func upsertResource(resources []vmcp.Resource, r vmcp.Resource) []vmcp.Resource {
	for i, existing := range resources {
		if existing.URI == r.URI {
			resources[i] = r
			return resources
		}
	}
	return append(resources, r)
}

func upsertPrompt(prompts []vmcp.Prompt, p vmcp.Prompt) []vmcp.Prompt {
	for i, existing := range prompts {
		if existing.Name == p.Name {
			prompts[i] = p
			return prompts
		}
	}
	return append(prompts, p)
}

// sortBackendsByID returns a copy of backends sorted ascending by ID, with
// nil entries dropped, so capability-name conflicts always resolve to the
// same backend regardless of the caller's original ordering.
func sortBackendsByID(backends []*vmcp.Backend) []*vmcp.Backend {
	out := make([]*vmcp.Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
