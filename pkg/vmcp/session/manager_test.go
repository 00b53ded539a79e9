// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	authtypes "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/oauthflow"
	internalbk "github.com/stacklok/vmcp-gateway/pkg/vmcp/session/internal/backend"
)

func newTestClientManager(connector backendConnector) *ClientManager {
	return &ClientManager{connector: connector, handles: make(map[string]*managedConnection)}
}

func TestClientManager_ConnectServer(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{WorkloadID: "b1"}
	conn := &mockConnectedBackend{sessID: "s1"}
	connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return conn, &vmcp.CapabilityList{}, nil
	}

	m := newTestClientManager(connector)
	gotConn, caps, err := m.ConnectServer(context.Background(), target, nil)
	require.NoError(t, err)
	assert.Same(t, conn, gotConn)
	assert.NotNil(t, caps)
	assert.Equal(t, 1, m.Count())
}

func TestClientManager_ConnectServerReplacesExisting(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{WorkloadID: "b1"}
	first := &mockConnectedBackend{sessID: "s1"}
	second := &mockConnectedBackend{sessID: "s2"}
	calls := 0
	connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		calls++
		if calls == 1 {
			return first, &vmcp.CapabilityList{}, nil
		}
		return second, &vmcp.CapabilityList{}, nil
	}

	m := newTestClientManager(connector)
	_, _, err := m.ConnectServer(context.Background(), target, nil)
	require.NoError(t, err)
	_, _, err = m.ConnectServer(context.Background(), target, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Count(), "replacing must not leave two handles for the same backend")
	assert.Eventually(t, func() bool { return first.closeCalled.Load() }, time.Second, 10*time.Millisecond)
}

func TestClientManager_ConnectServerPropagatesError(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{WorkloadID: "b1"}
	connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return nil, nil, errors.New("dial failed")
	}
	m := newTestClientManager(connector)
	_, _, err := m.ConnectServer(context.Background(), target, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, m.Count())
}

func TestClientManager_DisconnectServer(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{WorkloadID: "b1"}
	conn := &mockConnectedBackend{}
	connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return conn, &vmcp.CapabilityList{}, nil
	}
	m := newTestClientManager(connector)
	_, _, err := m.ConnectServer(context.Background(), target, nil)
	require.NoError(t, err)

	require.NoError(t, m.DisconnectServer(context.Background(), "b1"))
	assert.Equal(t, 0, m.Count())
	assert.True(t, conn.closeCalled.Load())
}

func TestClientManager_Lookup(t *testing.T) {
	t.Parallel()
	conn := &mockConnectedBackend{sessID: "s1"}
	connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return conn, &vmcp.CapabilityList{}, nil
	}
	m := newTestClientManager(connector)
	_, _, err := m.ConnectServer(context.Background(), &vmcp.BackendTarget{WorkloadID: "b1"}, nil)
	require.NoError(t, err)

	assert.Same(t, conn, m.Lookup("b1"))
	assert.Nil(t, m.Lookup("unknown"))
}

func TestClientManager_DisconnectServerUnknownIsNoop(t *testing.T) {
	t.Parallel()
	m := newTestClientManager(nil)
	assert.NoError(t, m.DisconnectServer(context.Background(), "nonexistent"))
}

func TestClientManager_ConnectServerAttachesAuthURLOnUnauthenticatedBackendWithOAuth(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{
		WorkloadID: "b1",
		AuthConfig: &authtypes.BackendAuthStrategy{
			Type: authtypes.StrategyTypeOAuth,
			OAuth: &authtypes.OAuthConfig{
				ClientID: "client-1",
				AuthURL:  "https://idp.example.com/authorize",
				TokenURL: "https://idp.example.com/token",
			},
		},
	}
	connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return nil, nil, vmcperrors.NewAuthenticationRequiredError("backend requires authentication", nil)
	}

	m := &ClientManager{connector: connector, oauth: oauthflow.NewManager(0), handles: make(map[string]*managedConnection)}
	_, _, err := m.ConnectServer(context.Background(), target, nil)
	require.Error(t, err)

	var ge *vmcperrors.Error
	require.ErrorAs(t, err, &ge)
	assert.Contains(t, ge.AuthURL, "idp.example.com/authorize")
}

func TestClientManager_ConnectServerLeavesNonAuthErrorsUnchanged(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{
		WorkloadID: "b1",
		AuthConfig: &authtypes.BackendAuthStrategy{
			Type: authtypes.StrategyTypeOAuth,
			OAuth: &authtypes.OAuthConfig{ClientID: "client-1", AuthURL: "https://idp/authorize", TokenURL: "https://idp/token"},
		},
	}
	wantErr := errors.New("dial failed")
	connector := func(_ context.Context, _ *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		return nil, nil, wantErr
	}

	m := &ClientManager{connector: connector, oauth: oauthflow.NewManager(0), handles: make(map[string]*managedConnection)}
	_, _, err := m.ConnectServer(context.Background(), target, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestClientManager_InstallAuthPending(t *testing.T) {
	t.Parallel()
	m := newTestClientManager(nil)

	caps := m.InstallAuthPending(context.Background(), "b1", []string{"search", "fetch"}, "https://idp/authorize")
	require.Len(t, caps.Tools, 2)
	assert.Equal(t, "search", caps.Tools[0].Name)
	assert.Equal(t, "b1", caps.Tools[0].BackendID)
	assert.Equal(t, 1, m.Count())

	conn := m.Lookup("b1")
	require.NotNil(t, conn)
	result, err := conn.CallTool(context.Background(), "search", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "https://idp/authorize")
}

func TestClientManager_Stop(t *testing.T) {
	t.Parallel()
	connA := &mockConnectedBackend{}
	connB := &mockConnectedBackend{}
	targets := map[string]internalbk.Session{"a": connA, "b": connB}
	calls := 0
	connector := func(_ context.Context, target *vmcp.BackendTarget, _ *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		calls++
		return targets[target.WorkloadID], &vmcp.CapabilityList{}, nil
	}

	m := newTestClientManager(connector)
	_, _, err := m.ConnectServer(context.Background(), &vmcp.BackendTarget{WorkloadID: "a"}, nil)
	require.NoError(t, err)
	_, _, err = m.ConnectServer(context.Background(), &vmcp.BackendTarget{WorkloadID: "b"}, nil)
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background()))
	assert.True(t, connA.closeCalled.Load())
	assert.True(t, connB.closeCalled.Load())
	assert.Equal(t, 0, m.Count())
}
