// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
)

// authPendingSession stands in for a backend that failed to connect with
// AuthenticationRequired. It keeps the backend's declared tools routable
// instead of dropping the whole server: every call returns a structured
// "please authenticate" result rather than an error, so the downstream
// caller sees a normal tool result with isError=true and the auth URL to
// act on, the same in-band recovery a mid-call 401 gets.
type authPendingSession struct {
	backendID string
	authURL   string
}

func newAuthPendingSession(backendID, authURL string) *authPendingSession {
	return &authPendingSession{backendID: backendID, authURL: authURL}
}

func (s *authPendingSession) SessionID() string { return "auth-pending:" + s.backendID }

func (s *authPendingSession) Close() error { return nil }

func (s *authPendingSession) CallTool(_ context.Context, _ string, _, _ map[string]any) (*vmcp.ToolCallResult, error) {
	return s.pendingResult(), nil
}

func (s *authPendingSession) ReadResource(_ context.Context, _ string) (*vmcp.ResourceReadResult, error) {
	return nil, s.pendingError()
}

func (s *authPendingSession) GetPrompt(_ context.Context, _ string, _ map[string]any) (*vmcp.PromptGetResult, error) {
	return nil, s.pendingError()
}

func (s *authPendingSession) pendingResult() *vmcp.ToolCallResult {
	return &vmcp.ToolCallResult{
		IsError: true,
		Content: []vmcp.Content{{Type: "text", Text: s.message()}},
	}
}

func (s *authPendingSession) pendingError() error {
	return vmcperrors.NewAuthenticationRequiredErrorWithURL(s.message(), s.authURL, nil)
}

func (s *authPendingSession) message() string {
	if s.authURL == "" {
		return "Server " + s.backendID + " is unauthenticated."
	}
	return "Server " + s.backendID + " is unauthenticated. Please authenticate using: " + s.authURL
}
