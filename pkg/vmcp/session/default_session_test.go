// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transportsession "github.com/stacklok/vmcp-gateway/pkg/transport/session"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	internalbk "github.com/stacklok/vmcp-gateway/pkg/vmcp/session/internal/backend"
)

// mockConnectedBackend is a fake internalbk.Session used throughout this
// file to exercise MakeSession without dialling a real upstream process.
type mockConnectedBackend struct {
	sessID      string
	closeCalled atomic.Bool
	closeErr    error
}

func (m *mockConnectedBackend) CallTool(_ context.Context, _ string, _, _ map[string]any) (*vmcp.ToolCallResult, error) {
	return &vmcp.ToolCallResult{Content: []vmcp.Content{{Type: "text", Text: "ok"}}}, nil
}

func (m *mockConnectedBackend) ReadResource(_ context.Context, _ string) (*vmcp.ResourceReadResult, error) {
	return &vmcp.ResourceReadResult{Contents: []byte("data")}, nil
}

func (m *mockConnectedBackend) GetPrompt(_ context.Context, _ string, _ map[string]any) (*vmcp.PromptGetResult, error) {
	return &vmcp.PromptGetResult{Messages: "[user] hi\n"}, nil
}

func (m *mockConnectedBackend) SessionID() string { return m.sessID }

func (m *mockConnectedBackend) Close() error {
	m.closeCalled.Store(true)
	return m.closeErr
}

func TestDefaultSession_Accessors(t *testing.T) {
	t.Parallel()

	sess := newDefaultMultiSessionWithID("test-session-id")
	assert.Equal(t, "test-session-id", sess.ID())
	assert.Equal(t, transportsession.SessionTypeStreamable, sess.Type())
	assert.Empty(t, sess.Tools())
	assert.Empty(t, sess.Resources())
	assert.Empty(t, sess.Prompts())
	assert.Empty(t, sess.BackendSessions())
}

func TestDefaultSession_CallTool_UnknownCapability(t *testing.T) {
	t.Parallel()

	sess := newDefaultMultiSessionWithID("test-no-client")
	_, err := sess.CallTool(context.Background(), "missing", nil, nil)
	assert.Error(t, err)
}

func TestDefaultSession_CloseClosesEveryBackendAndJoinsErrors(t *testing.T) {
	t.Parallel()

	sess := newDefaultMultiSessionWithID("test-multi-close")
	b1 := &mockConnectedBackend{closeErr: errors.New("b1 close error")}
	b2 := &mockConnectedBackend{closeErr: errors.New("b2 close error")}
	sess.addBackendResult("b1", b1, &vmcp.CapabilityList{}, &vmcp.BackendTarget{WorkloadID: "b1"})
	sess.addBackendResult("b2", b2, &vmcp.CapabilityList{}, &vmcp.BackendTarget{WorkloadID: "b2"})

	err := sess.Close()
	assert.True(t, b1.closeCalled.Load())
	assert.True(t, b2.closeCalled.Load(), "b2.close must be called even though b1 also errors")
	assert.ErrorContains(t, err, "b1 close error")
	assert.ErrorContains(t, err, "b2 close error")
}

func TestNewSessionFactory_MakeSession(t *testing.T) {
	t.Parallel()

	tool := vmcp.Tool{Name: "search", BackendID: "b1"}
	resource := vmcp.Resource{URI: "file://readme", BackendID: "b1"}
	prompt := vmcp.Prompt{Name: "greet", BackendID: "b1"}

	backend := &vmcp.Backend{ID: "b1", Name: "backend-1", BaseURL: "http://localhost:9999", TransportType: "streamable-http"}

	successConnector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return &mockConnectedBackend{sessID: "bs-1"}, &vmcp.CapabilityList{
			Tools: []vmcp.Tool{tool}, Resources: []vmcp.Resource{resource}, Prompts: []vmcp.Prompt{prompt},
		}, nil
	}

	t.Run("creates session with backend capabilities", func(t *testing.T) {
		t.Parallel()
		factory := newSessionFactoryWithConnector(successConnector)
		sess, err := factory.MakeSession(context.Background(), nil, []*vmcp.Backend{backend})
		require.NoError(t, err)
		require.NotNil(t, sess)

		assert.NotEmpty(t, sess.ID())
		assert.Equal(t, transportsession.SessionTypeStreamable, sess.Type())
		assert.Len(t, sess.Tools(), 1)
		assert.Len(t, sess.Resources(), 1)
		assert.Len(t, sess.Prompts(), 1)
		assert.Equal(t, "bs-1", sess.BackendSessions()["b1"])
		require.NoError(t, sess.Close())
	})

	t.Run("no backends produces empty session", func(t *testing.T) {
		t.Parallel()
		factory := newSessionFactoryWithConnector(successConnector)
		sess, err := factory.MakeSession(context.Background(), nil, nil)
		require.NoError(t, err)
		assert.Empty(t, sess.Tools())
		require.NoError(t, sess.Close())
	})

	t.Run("nil backend entries are skipped without panic", func(t *testing.T) {
		t.Parallel()
		factory := newSessionFactoryWithConnector(successConnector)
		sess, err := factory.MakeSession(context.Background(), nil, []*vmcp.Backend{nil, backend, nil})
		require.NoError(t, err)
		assert.Len(t, sess.Tools(), 1)
		require.NoError(t, sess.Close())
	})
}

func TestNewSessionFactory_PartialInitialisation(t *testing.T) {
	t.Parallel()

	backends := []*vmcp.Backend{
		{ID: "ok", Name: "ok", BaseURL: "http://ok:9999", TransportType: "streamable-http"},
		{ID: "fail", Name: "fail", BaseURL: "http://fail:9999", TransportType: "streamable-http"},
	}

	connector := func(_ context.Context, target *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		if target.WorkloadID == "fail" {
			return nil, nil, errors.New("backend unavailable")
		}
		return &mockConnectedBackend{sessID: "s-ok"}, &vmcp.CapabilityList{Tools: []vmcp.Tool{{Name: "tool-ok", BackendID: "ok"}}}, nil
	}

	factory := newSessionFactoryWithConnector(connector)
	sess, err := factory.MakeSession(context.Background(), nil, backends)
	require.NoError(t, err, "partial init must not return an error")
	require.Len(t, sess.Tools(), 1)
	assert.Equal(t, "tool-ok", sess.Tools()[0].Name)
	assert.NotContains(t, sess.BackendSessions(), "fail")
	require.NoError(t, sess.Close())
}

func TestNewSessionFactory_ConnectorReturnsNilWithoutError(t *testing.T) {
	t.Parallel()
	backend := &vmcp.Backend{ID: "b1", Name: "b1", BaseURL: "http://x:9", TransportType: "streamable-http"}

	t.Run("non-nil conn with nil caps must close conn to avoid leak", func(t *testing.T) {
		t.Parallel()
		var captured *mockConnectedBackend
		connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
			captured = &mockConnectedBackend{}
			return captured, nil, nil
		}
		factory := newSessionFactoryWithConnector(connector)
		sess, err := factory.MakeSession(context.Background(), nil, []*vmcp.Backend{backend})
		require.NoError(t, err)
		assert.Empty(t, sess.Tools())
		require.NoError(t, sess.Close())
		require.NotNil(t, captured)
		assert.True(t, captured.closeCalled.Load())
	})
}

func TestNewSessionFactory_ConnectorReturnsConnWithError(t *testing.T) {
	t.Parallel()
	backend := &vmcp.Backend{ID: "b1", Name: "b1", BaseURL: "http://x:9", TransportType: "streamable-http"}
	leaked := &mockConnectedBackend{}

	connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return leaked, nil, errors.New("init failed but conn was partially opened")
	}

	factory := newSessionFactoryWithConnector(connector)
	sess, err := factory.MakeSession(context.Background(), nil, []*vmcp.Backend{backend})
	require.NoError(t, err, "partial failure must not abort the session")
	assert.Empty(t, sess.Tools())
	require.NoError(t, sess.Close())
	assert.True(t, leaked.closeCalled.Load())
}

func TestNewSessionFactory_CapabilityNameConflictIsResolvedDeterministically(t *testing.T) {
	t.Parallel()

	backends := []*vmcp.Backend{
		{ID: "zeta", Name: "zeta", BaseURL: "http://zeta:9", TransportType: "streamable-http"},
		{ID: "alpha", Name: "alpha", BaseURL: "http://alpha:9", TransportType: "streamable-http"},
	}

	connector := func(_ context.Context, target *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return &mockConnectedBackend{sessID: target.WorkloadID}, &vmcp.CapabilityList{
			Tools:     []vmcp.Tool{{Name: "fetch", BackendID: target.WorkloadID}},
			Resources: []vmcp.Resource{{URI: "file://data", BackendID: target.WorkloadID}},
			Prompts:   []vmcp.Prompt{{Name: "greet", BackendID: target.WorkloadID}},
		}, nil
	}

	factory := newSessionFactoryWithConnector(connector)
	sess, err := factory.MakeSession(context.Background(), nil, backends)
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.Close()) }()

	require.Len(t, sess.Tools(), 1)
	require.Len(t, sess.Resources(), 1)
	require.Len(t, sess.Prompts(), 1)
	assert.Equal(t, "alpha", sess.Tools()[0].BackendID)
	assert.Equal(t, "alpha", sess.Resources()[0].BackendID)
	assert.Equal(t, "alpha", sess.Prompts()[0].BackendID)

	result, err := sess.CallTool(context.Background(), "fetch", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestNewSessionFactory_AllBackendsFail(t *testing.T) {
	t.Parallel()
	backend := &vmcp.Backend{ID: "b1", Name: "b1", BaseURL: "http://x:9", TransportType: "streamable-http"}
	connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return nil, nil, errors.New("down")
	}

	factory := newSessionFactoryWithConnector(connector)
	sess, err := factory.MakeSession(context.Background(), nil, []*vmcp.Backend{backend})
	require.NoError(t, err, "all-fail must still return a valid (empty) session")
	assert.Empty(t, sess.Tools())
	require.NoError(t, sess.Close())
}

func TestNewSessionFactory_BackendInitTimeout(t *testing.T) {
	t.Parallel()
	backend := &vmcp.Backend{ID: "slow", Name: "slow", BaseURL: "http://x:9", TransportType: "streamable-http"}

	released := make(chan struct{})
	connector := func(ctx context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-released:
			return &mockConnectedBackend{}, &vmcp.CapabilityList{}, nil
		}
	}

	factory := newSessionFactoryWithConnector(connector, WithBackendInitTimeout(50*time.Millisecond))
	sess, err := factory.MakeSession(context.Background(), nil, []*vmcp.Backend{backend})
	require.NoError(t, err, "timeout is a partial failure, not a hard error")
	assert.Empty(t, sess.Tools())
	close(released)
	require.NoError(t, sess.Close())
}

func TestNewSessionFactory_ParallelInit(t *testing.T) {
	t.Parallel()
	const numBackends = 5
	backends := make([]*vmcp.Backend, numBackends)
	for i := range backends {
		backends[i] = &vmcp.Backend{
			ID: fmt.Sprintf("b%d", i), Name: fmt.Sprintf("b%d", i),
			BaseURL: "http://x:9", TransportType: "streamable-http",
		}
	}

	var concurrent atomic.Int32
	var maxSeen atomic.Int32
	connector := func(_ context.Context, target *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		n := concurrent.Add(1)
		for {
			max := maxSeen.Load()
			if n <= max || maxSeen.CompareAndSwap(max, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		concurrent.Add(-1)
		return &mockConnectedBackend{sessID: target.WorkloadID}, &vmcp.CapabilityList{}, nil
	}

	factory := newSessionFactoryWithConnector(connector, WithMaxBackendInitConcurrency(3))
	sess, err := factory.MakeSession(context.Background(), nil, backends)
	require.NoError(t, err)
	assert.LessOrEqual(t, int(maxSeen.Load()), 3)
	require.NoError(t, sess.Close())
}
