// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server exposes a composed vMCP instance over the downstream MCP
// wire protocol (spec.md §1: "the downstream MCP wire framing itself" is
// provided by mark3labs/mcp-go; this package only wires that library's
// server up to the gateway's Manager/Router).
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/logger"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/config"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/gateway"
)

// defaultSessionID is the instance key used for transports (stdio) that
// never hand mcp-go a per-connection session ID.
const defaultSessionID = "stdio-default"

// shutdownTimeout bounds how long Start, once its context is cancelled,
// waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Config controls how the downstream-facing MCP server is exposed.
type Config struct {
	Name    string
	Version string
	Host    string
	Port    int
}

// Server serves cfg's composed capability set to downstream MCP clients,
// opening (and reusing) one gateway.Instance per downstream session.
type Server struct {
	cfg        *config.Config
	serverCfg  Config
	manager    *gateway.Manager
	identity   *auth.Identity
	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
}

// New builds a Server. It eagerly opens the default-session instance once,
// both to validate cfg/backends at startup and to seed the tool/prompt/
// resource lists mcp-go advertises to every downstream client (the set is
// derived once per process from the VMCPConfig file, not per connection).
func New(ctx context.Context, serverCfg Config, cfg *config.Config, manager *gateway.Manager) (*Server, error) {
	instance, err := manager.Open(ctx, defaultSessionID, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("composing initial vMCP instance: %w", err)
	}

	mcpSrv := mcpserver.NewMCPServer(
		serverCfg.Name,
		serverCfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, false),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithLogging(),
	)

	s := &Server{cfg: cfg, serverCfg: serverCfg, manager: manager, mcpServer: mcpSrv}

	for _, t := range instance.Composition.Tools {
		mcpSrv.AddTool(mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: toMCPInputSchema(t.InputSchema),
		}, s.toolHandler(t.Name))
	}
	for _, p := range instance.Composition.Prompts {
		mcpSrv.AddPrompt(mcp.Prompt{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   toMCPPromptArgs(p.Arguments),
		}, s.promptHandler(p.Name))
	}
	for _, r := range instance.Composition.Resources {
		mcpSrv.AddResource(mcp.Resource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MimeType,
		}, s.resourceHandler(r.URI))
	}

	return s, nil
}

// authHeaderContextKey carries the raw incoming Authorization header from
// the HTTP transport down to sessionFor, which turns it into an
// auth.Identity for the session's first Manager.Open call.
type authHeaderContextKey struct{}

// sessionFor resolves the gateway Instance serving ctx's downstream
// connection, opening it on first use.
func (s *Server) sessionFor(ctx context.Context) (*gateway.Instance, error) {
	id := defaultSessionID
	if sess := mcpserver.ClientSessionFromContext(ctx); sess != nil && sess.SessionID() != "" {
		id = sess.SessionID()
	}

	identity := s.identity
	if header, _ := ctx.Value(authHeaderContextKey{}).(string); header != "" {
		identity = auth.IdentityFromBearerToken(header)
	}
	return s.manager.Open(ctx, id, s.cfg, identity)
}

func (s *Server) toolHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		instance, err := s.sessionFor(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		args, _ := req.Params.Arguments.(map[string]any)
		result, err := instance.Router.CallTool(ctx, name, args, requestMeta(req))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toMCPToolResult(result), nil
	}
}

func (s *Server) promptHandler(name string) mcpserver.PromptHandlerFunc {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		instance, err := s.sessionFor(ctx)
		if err != nil {
			return nil, err
		}
		args := make(map[string]any, len(req.Params.Arguments))
		for k, v := range req.Params.Arguments {
			args[k] = v
		}
		result, err := instance.Router.GetPrompt(ctx, name, args)
		if err != nil {
			return nil, err
		}
		return &mcp.GetPromptResult{
			Messages: []mcp.PromptMessage{
				{Role: mcp.RoleAssistant, Content: mcp.NewTextContent(result.Messages)},
			},
		}, nil
	}
}

func (s *Server) resourceHandler(uri string) mcpserver.ResourceHandlerFunc {
	return func(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		instance, err := s.sessionFor(ctx)
		if err != nil {
			return nil, err
		}
		result, err := instance.Router.ReadResource(ctx, uri)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, MIMEType: result.MimeType, Text: string(result.Contents)},
		}, nil
	}
}

// Start begins serving on serverCfg.Host:Port using the streamable-HTTP
// transport (the only downstream transport spec.md §6 requires beyond
// stdio, which callers select by running ServeStdio instead). Blocks until
// ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	streamable := mcpserver.NewStreamableHTTPServer(
		s.mcpServer,
		mcpserver.WithEndpointPath("/mcp"),
		mcpserver.WithHTTPContextFunc(func(c context.Context, r *http.Request) context.Context {
			if h := r.Header.Get("Authorization"); h != "" {
				c = context.WithValue(c, authHeaderContextKey{}, h)
			}
			return c
		}),
	)

	s.httpServer = &http.Server{
		Addr:              s.Address(),
		Handler:           streamable,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting vMCP server on http://%s/mcp", s.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return vmcperrors.NewTransportError("vMCP server failed", err)
	}
}

// ServeStdio serves the composed instance over stdio, for single-user CLI
// integration (spec.md §6's stdio upstream requirement has a downstream
// mirror: a vMCP itself can also be dialed over stdio).
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
}

// Address returns the host:port this server listens on.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.serverCfg.Host, s.serverCfg.Port)
}

// requestMeta flattens req's `_meta` block (notably progressToken) into the
// plain map Router.CallTool forwards to the owning backend session, so a
// caller's own progress token is what it sees reported back rather than one
// synthesized by the gateway.
func requestMeta(req mcp.CallToolRequest) map[string]any {
	if req.Params.Meta == nil {
		return nil
	}
	meta := make(map[string]any, len(req.Params.Meta.AdditionalFields)+1)
	for k, v := range req.Params.Meta.AdditionalFields {
		meta[k] = v
	}
	if req.Params.Meta.ProgressToken != nil {
		meta["progressToken"] = req.Params.Meta.ProgressToken
	}
	return meta
}

func toMCPInputSchema(schema map[string]any) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}}
	if schema == nil {
		return out
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = props
	}
	if required, ok := schema["required"].([]string); ok {
		out.Required = required
	}
	return out
}

func toMCPPromptArgs(args []vmcp.PromptArgument) []mcp.PromptArgument {
	out := make([]mcp.PromptArgument, 0, len(args))
	for _, a := range args {
		out = append(out, mcp.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
	}
	return out
}

func toMCPToolResult(result *vmcp.ToolCallResult) *mcp.CallToolResult {
	content := make([]mcp.Content, 0, len(result.Content))
	for _, c := range result.Content {
		content = append(content, mcp.NewTextContent(c.Text))
		_ = c.Type // content blocks beyond text are not produced by any backend today
	}
	return &mcp.CallToolResult{Content: content, IsError: result.IsError}
}
