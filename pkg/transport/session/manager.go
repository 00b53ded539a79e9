// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Manager owns the set of live sessions for one transport endpoint. It
// evicts sessions that have not been touched within ttl, on a background
// tick, until Stop is called.
type Manager struct {
	mu      sync.RWMutex
	ttl     time.Duration
	storage Storage
	factory func(id string) Session

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  bool
}

// NewManager builds a Manager whose sessions are created by factory and
// held in an in-memory LocalStorage, evicting anything idle past ttl.
// factory is typically a concrete constructor like NewStreamableSession, or
// a richer multi-backend session factory (see vmcp/session.VMCPSessionFactory);
// Go's implicit interface satisfaction lets either be passed directly.
func NewManager[T Session](ttl time.Duration, factory func(id string) T) *Manager {
	return NewManagerWithStorage(ttl, NewLocalStorage(), func(id string) Session { return factory(id) })
}

// NewTypedManager builds a Manager whose sessions are always of the given
// SessionType, constructed via the baseline ProxySession/SSESession/
// StreamableSession constructors.
func NewTypedManager(ttl time.Duration, typ SessionType) *Manager {
	var factory func(id string) Session
	switch typ {
	case SessionTypeSSE:
		factory = func(id string) Session { return NewSSESession(id) }
	case SessionTypeStreamable:
		factory = func(id string) Session { return NewStreamableSession(id) }
	default:
		factory = func(id string) Session { return NewProxySession(id) }
	}
	return NewManagerWithStorage(ttl, NewLocalStorage(), factory)
}

// NewManagerWithStorage builds a Manager against a caller-supplied Storage
// backend (e.g. a Redis-backed implementation for multi-replica deployments).
func NewManagerWithStorage(ttl time.Duration, storage Storage, factory func(id string) Session) *Manager {
	m := &Manager{
		ttl:     ttl,
		storage: storage,
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// AddWithID creates and stores a new session under id via the manager's
// factory. It returns an error if a session with that ID already exists.
func (m *Manager) AddWithID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := context.Background()
	if _, err := m.storage.Load(ctx, id); err == nil {
		return fmt.Errorf("session %q already exists", id)
	}
	sess := m.factory(id)
	return m.storage.Store(ctx, sess)
}

// Get returns the session stored under id, touching its last-activity
// timestamp and re-storing it. ok is false if no such session exists.
func (m *Manager) Get(id string) (sess Session, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := context.Background()
	sess, err := m.storage.Load(ctx, id)
	if err != nil {
		return nil, false
	}
	sess.Touch()
	_ = m.storage.Store(ctx, sess)
	return sess, true
}

// ReplaceSession upserts sess under its own ID, replacing whatever was
// previously stored there (including a different concrete type).
func (m *Manager) ReplaceSession(sess Session) error {
	if sess == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if sess.ID() == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storage.Store(context.Background(), sess)
}

// Delete removes the session stored under id, if any.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storage.Delete(context.Background(), id)
}

// Stop halts the background eviction loop. Sessions already stored remain
// until explicitly Deleted. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
		close(m.stopCh)
	})
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanupExpiredOnce()
		}
	}
}

// cleanupExpiredOnce evicts every session whose UpdatedAt is older than ttl.
// It is unexported; outside this package, expired sessions are swept only by
// the background loop.
func (m *Manager) cleanupExpiredOnce() {
	local, ok := m.storage.(*LocalStorage)
	if !ok {
		return
	}
	local.mu.RLock()
	expired := make([]string, 0)
	now := time.Now()
	for id, sess := range local.sessions {
		if now.Sub(sess.UpdatedAt()) > m.ttl {
			expired = append(expired, id)
		}
	}
	local.mu.RUnlock()

	for _, id := range expired {
		_ = m.Delete(id)
	}
}
