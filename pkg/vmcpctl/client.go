// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package vmcpctl

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// clientInfo is sent as this CLI's identity during MCP initialize, mirroring
// pkg/vmcp/session's own outgoing handshake.
var clientInfo = mcp.Implementation{Name: "vmcpctl", Version: "0.1.0"}

// Client dials a single running "vmcp serve" endpoint over streamable HTTP
// and speaks the downstream MCP protocol to it, the same way any other MCP
// client would. It exists because vmcp serve has no separate admin/SDK API:
// the SDK surface a sandboxed tool script uses IS the MCP wire protocol.
type Client struct {
	mcpClient *client.Client
}

// Dial connects to url (e.g. "http://127.0.0.1:4483/mcp") and completes MCP
// initialization.
func Dial(ctx context.Context, url string, headers map[string]string) (*Client, error) {
	mcpClient, err := client.NewStreamableHttpClient(url, transport.WithHTTPHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("building client for %s: %w", url, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = clientInfo
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("initializing session with %s: %w", url, err)
	}

	return &Client{mcpClient: mcpClient}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.mcpClient.Close() }

// ListTools returns every tool the connected vMCP composed.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := c.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ListPrompts returns every prompt the connected vMCP composed.
func (c *Client) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	result, err := c.mcpClient.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// ListResources returns every resource the connected vMCP composed.
func (c *Client) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	result, err := c.mcpClient.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// CallTool invokes name with arguments and returns its raw MCP result.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	return c.mcpClient.CallTool(ctx, req)
}
