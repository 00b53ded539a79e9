// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session holds the generic proxy-session model shared by every
// downstream-facing transport: an opaque ID, a type tag, creation/update
// timestamps, and a small metadata bag. Higher-level packages (vmcp/session)
// embed Session to get this bookkeeping for free and layer richer behaviour
// (multi-backend routing, tool/resource/prompt lists) on top.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionType identifies what created a session, used by transports that
// need to treat SSE and streamable-HTTP connections differently.
type SessionType string

const (
	SessionTypeMCP        SessionType = "mcp"
	SessionTypeSSE        SessionType = "sse"
	SessionTypeStreamable SessionType = "streamable"
)

// sessionIDContextKey is the context key a transport middleware stores the
// resolved session ID under, so downstream handlers can recover it without
// threading it through every call signature.
type sessionIDContextKey struct{}

// SessionIDContextKey is used with context.WithValue/context.Value to carry
// the active session ID through a request's context.
var SessionIDContextKey = sessionIDContextKey{}

// Session is the behaviour every stored session must provide. Concrete
// transports (ProxySession and its SSE/streamable specializations, and
// vmcp/session's multi-backend session) all satisfy it.
type Session interface {
	ID() string
	Type() SessionType
	CreatedAt() time.Time
	UpdatedAt() time.Time
	Touch()
	GetMetadata() map[string]string
	SetMetadata(key, value string)
}

// ProxySession is the baseline Session implementation: just the bookkeeping
// fields, no transport-specific behaviour.
type ProxySession struct {
	mu       sync.RWMutex
	id       string
	typ      SessionType
	created  time.Time
	updated  time.Time
	metadata map[string]string
}

// NewProxySession creates a plain session of type SessionTypeMCP.
func NewProxySession(id string) *ProxySession {
	return newProxySession(id, SessionTypeMCP)
}

func newProxySession(id string, typ SessionType) *ProxySession {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &ProxySession{
		id:       id,
		typ:      typ,
		created:  now,
		updated:  now,
		metadata: make(map[string]string),
	}
}

func (s *ProxySession) ID() string { return s.id }

func (s *ProxySession) Type() SessionType { return s.typ }

func (s *ProxySession) CreatedAt() time.Time { return s.created }

func (s *ProxySession) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// Touch updates the session's last-activity timestamp.
func (s *ProxySession) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = time.Now()
}

func (s *ProxySession) GetMetadata() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *ProxySession) SetMetadata(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		s.metadata = make(map[string]string)
	}
	s.metadata[key] = value
}

// SSESession is a Session created for a legacy SSE transport connection.
type SSESession struct {
	*ProxySession
}

// NewSSESession creates an SSE-flavoured session.
func NewSSESession(id string) *SSESession {
	return &SSESession{ProxySession: newProxySession(id, SessionTypeSSE)}
}

// StreamableSession is a Session created for a streamable-HTTP transport
// connection (the default for upstream MCP clients dialled by vmcp/session).
type StreamableSession struct {
	*ProxySession
}

// NewStreamableSession creates a streamable-HTTP-flavoured session.
func NewStreamableSession(id string) *StreamableSession {
	return &StreamableSession{ProxySession: newProxySession(id, SessionTypeStreamable)}
}
