// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProxySession_GeneratesIDWhenEmpty(t *testing.T) {
	t.Parallel()
	s := NewProxySession("")
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, SessionTypeMCP, s.Type())
}

func TestNewSSESession(t *testing.T) {
	t.Parallel()
	s := NewSSESession("sse-1")
	assert.Equal(t, "sse-1", s.ID())
	assert.Equal(t, SessionTypeSSE, s.Type())
}

func TestNewStreamableSession(t *testing.T) {
	t.Parallel()
	s := NewStreamableSession("stream-1")
	assert.Equal(t, "stream-1", s.ID())
	assert.Equal(t, SessionTypeStreamable, s.Type())
}

func TestProxySession_Metadata(t *testing.T) {
	t.Parallel()
	s := NewProxySession("m1")
	s.SetMetadata("key", "value")
	assert.Equal(t, "value", s.GetMetadata()["key"])
}

func TestProxySession_Touch(t *testing.T) {
	t.Parallel()
	s := NewProxySession("t1")
	before := s.UpdatedAt()
	s.Touch()
	assert.False(t, s.UpdatedAt().Before(before))
}
