// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package backend wraps one live upstream MCP client connection (stdio,
// SSE, or streamable-HTTP) behind a transport-agnostic Session interface,
// so the multi-backend session above never has to branch on transport
// type once a connection is established.
package backend

import (
	"context"

	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
)

// Session is a single established connection to one upstream backend. The
// vmcp/session factory dials one of these per backend and folds its
// capabilities into the downstream-facing multi-backend session.
type Session interface {
	CallTool(ctx context.Context, toolName string, arguments map[string]any, meta map[string]any) (*vmcp.ToolCallResult, error)
	ReadResource(ctx context.Context, uri string) (*vmcp.ResourceReadResult, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]any) (*vmcp.PromptGetResult, error)
	SessionID() string
	Close() error
}
