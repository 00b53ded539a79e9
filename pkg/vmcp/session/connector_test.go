// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	authtypes "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/oauthflow"
)

func TestDefaultConnector_UnsupportedTransport(t *testing.T) {
	t.Parallel()
	connector := defaultConnector(nil, nil)
	target := &vmcp.BackendTarget{WorkloadID: "b1", TransportType: "carrier-pigeon"}

	conn, caps, err := connector(context.Background(), target, nil)
	assert.Nil(t, conn)
	assert.Nil(t, caps)
	require.Error(t, err)
	assert.True(t, vmcperrors.Is(err, vmcperrors.ErrTransport))
}

func TestDefaultConnector_NilTargetIsSkipped(t *testing.T) {
	t.Parallel()
	connector := defaultConnector(nil, nil)
	conn, caps, err := connector(context.Background(), nil, nil)
	assert.Nil(t, conn)
	assert.Nil(t, caps)
	assert.NoError(t, err)
}

func TestDialStdio_EmptyCommandErrors(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{WorkloadID: "b1", BaseURL: "", TransportType: "stdio"}
	conn, caps, err := dialStdio(context.Background(), target)
	assert.Nil(t, conn)
	assert.Nil(t, caps)
	require.Error(t, err)
}

func TestOutgoingHeaders_NoAuthStrategyReturnsNil(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{WorkloadID: "b1", BaseURL: "http://backend", AuthStrategy: ""}
	headers, err := outgoingHeaders(context.Background(), target, nil)
	assert.Nil(t, headers)
	assert.NoError(t, err)
}

func TestOutgoingHeaders_UnregisteredStrategyReturnsNilWithoutError(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{WorkloadID: "b1", BaseURL: "http://backend", AuthStrategy: "unregistered"}
	headers, err := outgoingHeaders(context.Background(), target, auth.NewDefaultOutgoingAuthRegistry())
	assert.Nil(t, headers)
	assert.NoError(t, err)
}

func TestAuthURLFunc_NoOAuthManagerReturnsNil(t *testing.T) {
	t.Parallel()
	target := &vmcp.BackendTarget{WorkloadID: "b1"}
	assert.Nil(t, authURLFunc(nil, target))
}

func TestAuthURLFunc_NoOAuthConfigReturnsNil(t *testing.T) {
	t.Parallel()
	oauth := oauthflow.NewManager(0)
	target := &vmcp.BackendTarget{WorkloadID: "b1", AuthConfig: &authtypes.BackendAuthStrategy{Type: authtypes.StrategyTypeUnauthenticated}}
	assert.Nil(t, authURLFunc(oauth, target))
}

func TestAuthURLFunc_BeginsFlowAndReturnsRedirectURL(t *testing.T) {
	t.Parallel()
	oauth := oauthflow.NewManager(0)
	target := &vmcp.BackendTarget{
		WorkloadID: "b1",
		AuthConfig: &authtypes.BackendAuthStrategy{
			Type: authtypes.StrategyTypeOAuth,
			OAuth: &authtypes.OAuthConfig{
				ClientID: "client-1",
				AuthURL:  "https://idp.example.com/authorize",
				TokenURL: "https://idp.example.com/token",
				UsePKCE:  true,
			},
		},
	}

	beginAuth := authURLFunc(oauth, target)
	require.NotNil(t, beginAuth)

	redirectURL, err := beginAuth(context.Background())
	require.NoError(t, err)
	assert.Contains(t, redirectURL, "idp.example.com/authorize")
	assert.Contains(t, redirectURL, "client_id=client-1")
}

func TestOauthflowConfigFrom_FallsBackToCallbackPortForRedirectURL(t *testing.T) {
	t.Parallel()
	o := &authtypes.OAuthConfig{ClientID: "c1", AuthURL: "https://idp/authorize", TokenURL: "https://idp/token", CallbackPort: 8765}
	cfg := oauthflowConfigFrom(o)
	assert.Equal(t, "http://127.0.0.1:8765/callback", cfg.RedirectURL)
}

func TestOauthflowConfigFrom_ExplicitRedirectURLWins(t *testing.T) {
	t.Parallel()
	o := &authtypes.OAuthConfig{
		ClientID:     "c1",
		AuthURL:      "https://idp/authorize",
		TokenURL:     "https://idp/token",
		RedirectURL:  "https://gateway.example.com/callback",
		CallbackPort: 8765,
	}
	cfg := oauthflowConfigFrom(o)
	assert.Equal(t, "https://gateway.example.com/callback", cfg.RedirectURL)
}

func TestClassifyDialError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		wantType string
	}{
		{"unauthorized", errors.New("request failed: 401 Unauthorized"), vmcperrors.ErrAuthenticationRequired},
		{"invalid session", errors.New("400 Bad Request: invalid session id"), vmcperrors.ErrInvalidSessionID},
		{"generic http", errors.New("HTTP request failed with status 503"), vmcperrors.ErrHTTPError},
		{"unrecognized", errors.New("connection refused"), vmcperrors.ErrConnectionTimeout},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifyDialError(tc.err)
			assert.True(t, vmcperrors.Is(got, tc.wantType), "expected %s, got %v", tc.wantType, got)
		})
	}
}
