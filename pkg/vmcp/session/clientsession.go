// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
)

// clientSession adapts a live *client.Client (one of mcp-go's stdio/SSE/
// streamable-HTTP implementations) to the internalbk.Session contract the
// multi-backend session and factory operate against. redial and beginAuth
// are optional: redial reconnects after an invalid-session error, beginAuth
// starts an OAuth flow and returns a redirect URL after a 401.
type clientSession struct {
	backendID string
	redial    func(ctx context.Context) (*client.Client, error)
	beginAuth func(ctx context.Context) (string, error)

	mu        sync.RWMutex
	mcpClient *client.Client
	forwarder *NotificationForwarder
}

func newClientSession(
	mcpClient *client.Client,
	backendID string,
	redial func(ctx context.Context) (*client.Client, error),
	beginAuth func(ctx context.Context) (string, error),
) *clientSession {
	return &clientSession{mcpClient: mcpClient, backendID: backendID, redial: redial, beginAuth: beginAuth}
}

func (c *clientSession) client() *client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mcpClient
}

func (c *clientSession) SessionID() string { return c.client().GetSessionId() }

// SetNotificationHandler installs forwarder as this connection's upstream
// notification sink, satisfying the optional notificationSource interface
// MultiSession.WireNotifications looks for.
func (c *clientSession) SetNotificationHandler(forwarder *NotificationForwarder) {
	c.mu.Lock()
	c.forwarder = forwarder
	mcpClient := c.mcpClient
	c.mu.Unlock()
	mcpClient.OnNotification(forwarder.Handle)
}

// reconnect redials the backend and swaps in the new client, closing the
// stale one. It is handed to runOperation as the recovery step for an
// invalid-session-id failure: the previous client's session was rejected by
// the backend, so retrying against it again would just fail the same way.
func (c *clientSession) reconnect(ctx context.Context) error {
	if c.redial == nil {
		return vmcperrors.NewInvalidSessionIDError("backend "+c.backendID+" does not support reconnect", nil)
	}
	newClient, err := c.redial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	stale := c.mcpClient
	c.mcpClient = newClient
	forwarder := c.forwarder
	c.mu.Unlock()

	if forwarder != nil {
		newClient.OnNotification(forwarder.Handle)
	}
	if stale != nil {
		_ = stale.Close()
	}
	return nil
}

func (c *clientSession) Close() error { return c.client().Close() }

func (c *clientSession) CallTool(ctx context.Context, toolName string, arguments, meta map[string]any) (*vmcp.ToolCallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	downstreamToken := meta["progressToken"]
	internalToken := uuid.NewString()

	c.mu.RLock()
	forwarder := c.forwarder
	c.mu.RUnlock()
	if forwarder != nil {
		// Always register a token, even when the caller supplied none: per
		// the notification-forwarding contract, upstream progress must
		// still surface downstream under a stable per-invocation token.
		token := downstreamToken
		if token == nil {
			token = internalToken
		}
		forwarder.RegisterProgressToken(internalToken, token)
		defer forwarder.UnregisterProgressToken(internalToken)
		req.Params.Meta = &mcp.Meta{ProgressToken: mcp.ProgressToken(internalToken)}
	}

	result, err := runOperation(ctx, "call_tool", c.reconnect, func(ctx context.Context) (*vmcp.ToolCallResult, error) {
		res, err := c.client().CallTool(ctx, req)
		if err != nil {
			return nil, err
		}
		return convertToolResult(res), nil
	})
	if err != nil {
		return nil, c.attachAuthURL(ctx, err)
	}
	return result, nil
}

func (c *clientSession) ReadResource(ctx context.Context, uri string) (*vmcp.ResourceReadResult, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	result, err := runOperation(ctx, "read_resource", c.reconnect, func(ctx context.Context) (*vmcp.ResourceReadResult, error) {
		res, err := c.client().ReadResource(ctx, req)
		if err != nil {
			return nil, err
		}
		return convertResourceResult(res), nil
	})
	if err != nil {
		return nil, c.attachAuthURL(ctx, err)
	}
	return result, nil
}

func (c *clientSession) GetPrompt(ctx context.Context, name string, arguments map[string]any) (*vmcp.PromptGetResult, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = stringifyArguments(arguments)

	result, err := runOperation(ctx, "get_prompt", c.reconnect, func(ctx context.Context) (*vmcp.PromptGetResult, error) {
		res, err := c.client().GetPrompt(ctx, req)
		if err != nil {
			return nil, err
		}
		return convertPromptResult(res), nil
	})
	if err != nil {
		return nil, c.attachAuthURL(ctx, err)
	}
	return result, nil
}

// attachAuthURL enriches an AuthenticationRequired error with a freshly
// started OAuth flow's redirect URL, so callers (the router's in-band
// "please authenticate" response) have somewhere to point the caller.
func (c *clientSession) attachAuthURL(ctx context.Context, err error) error {
	if err == nil || c.beginAuth == nil || !vmcperrors.Is(err, vmcperrors.ErrAuthenticationRequired) {
		return err
	}
	authURL, beginErr := c.beginAuth(ctx)
	if beginErr != nil || authURL == "" {
		return err
	}
	return vmcperrors.NewAuthenticationRequiredErrorWithURL(
		"backend "+c.backendID+" requires authentication", authURL, err)
}

func stringifyArguments(args map[string]any) map[string]string {
	if args == nil {
		return nil
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = toStringFallback(v)
	}
	return out
}

func toStringFallback(v any) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return ""
}

func convertToolResult(result *mcp.CallToolResult) *vmcp.ToolCallResult {
	if result == nil {
		return &vmcp.ToolCallResult{}
	}
	out := &vmcp.ToolCallResult{IsError: result.IsError}
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			out.Content = append(out.Content, vmcp.Content{Type: "text", Text: text.Text})
			continue
		}
		out.Content = append(out.Content, vmcp.Content{Type: "unsupported"})
	}
	return out
}

func convertResourceResult(result *mcp.ReadResourceResult) *vmcp.ResourceReadResult {
	if result == nil || len(result.Contents) == 0 {
		return &vmcp.ResourceReadResult{}
	}
	switch c := result.Contents[0].(type) {
	case mcp.TextResourceContents:
		return &vmcp.ResourceReadResult{Contents: []byte(c.Text), MimeType: c.MIMEType}
	case mcp.BlobResourceContents:
		return &vmcp.ResourceReadResult{Contents: []byte(c.Blob), MimeType: c.MIMEType}
	default:
		return &vmcp.ResourceReadResult{}
	}
}

// convertPromptResult flattens a GetPromptResult's messages to one string,
// "[role] text\n" per message, matching the Open-Question decision recorded
// in DESIGN.md (no structured multi-message prompt type downstream yet).
func convertPromptResult(result *mcp.GetPromptResult) *vmcp.PromptGetResult {
	if result == nil {
		return &vmcp.PromptGetResult{}
	}
	var sb strings.Builder
	for _, m := range result.Messages {
		sb.WriteString("[")
		sb.WriteString(string(m.Role))
		sb.WriteString("] ")
		if text, ok := m.Content.(mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
		sb.WriteString("\n")
	}
	return &vmcp.PromptGetResult{Messages: sb.String()}
}

// splitCommandLine splits a "command arg1 arg2" string into a program and
// its argument list for the stdio transport, where BaseURL carries the
// launch command rather than a URL.
func splitCommandLine(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
