// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/logger"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	authtypes "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/oauthflow"
	internalbk "github.com/stacklok/vmcp-gateway/pkg/vmcp/session/internal/backend"
)

// ErrUnsupportedTransport is returned when a Backend's TransportType does
// not match any of "stdio", "sse", "streamable-http", or "http".
var ErrUnsupportedTransport = errors.New("unsupported backend transport type")

// backendConnector dials one backend, completes MCP initialization, and
// returns a live internalbk.Session plus everything it advertised. A nil
// conn with a nil error means the backend was intentionally skipped (e.g. a
// nil Backend entry); see MakeSession.
type backendConnector func(ctx context.Context, target *vmcp.BackendTarget, identity *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error)

// clientInfo is sent as this gateway's identity during MCP initialize.
var clientInfo = mcp.Implementation{Name: "vmcp-gateway", Version: "0.1.0"}

// defaultConnector dispatches to the transport-specific dialer named by
// target.TransportType, authenticating outgoing HTTP-based transports via
// authRegistry's strategy for target.AuthStrategy. oauth, if non-nil, lets
// an HTTP-based dial start an Authorization Code + PKCE flow on a 401 rather
// than just surfacing the bare failure.
func defaultConnector(authRegistry auth.OutgoingAuthRegistry, oauth *oauthflow.Manager) backendConnector {
	return func(ctx context.Context, target *vmcp.BackendTarget, identity *auth.Identity) (internalbk.Session, *vmcp.CapabilityList, error) {
		if target == nil {
			return nil, nil, nil
		}
		if identity != nil {
			ctx = auth.WithIdentity(ctx, identity)
		}

		switch target.TransportType {
		case "stdio":
			return dialStdio(ctx, target)
		case "sse":
			return dialSSE(ctx, target, authRegistry, oauth)
		case "streamable-http", "http":
			return dialStreamableHTTP(ctx, target, authRegistry, oauth)
		default:
			return nil, nil, vmcperrors.NewTransportError(
				fmt.Sprintf("backend %q: %s", target.WorkloadID, ErrUnsupportedTransport), ErrUnsupportedTransport)
		}
	}
}

// dialStdio launches a local MCP server process. There is no toolhive
// upstream-dialing equivalent for this transport (toolhive only ever talks
// to already-running containerized workloads over HTTP); the command/args
// split convention (BaseURL as "command arg1 arg2...") and the
// initialize-then-close-on-failure shape follow mark3labs/mcp-go's own
// stdio client contract.
func dialStdio(ctx context.Context, target *vmcp.BackendTarget) (internalbk.Session, *vmcp.CapabilityList, error) {
	mcpClient, err := newStdioClient(target)
	if err != nil {
		return nil, nil, err
	}

	caps, err := initializeAndDiscover(ctx, mcpClient, target)
	if err != nil {
		_ = mcpClient.Close()
		return nil, nil, err
	}
	redial := func(ctx context.Context) (*client.Client, error) {
		newClient, err := newStdioClient(target)
		if err != nil {
			return nil, err
		}
		if err := initialize(ctx, newClient, target); err != nil {
			_ = newClient.Close()
			return nil, err
		}
		return newClient, nil
	}
	return newClientSession(mcpClient, target.WorkloadID, redial, nil), caps, nil
}

func newStdioClient(target *vmcp.BackendTarget) (*client.Client, error) {
	command, args := splitCommandLine(target.BaseURL)
	if command == "" {
		return nil, vmcperrors.NewTransportError("stdio backend has no command configured", nil)
	}

	env := make([]string, 0, len(target.Metadata))
	for k, v := range target.Metadata {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, vmcperrors.NewTransportError("failed to start stdio backend", err)
	}
	return mcpClient, nil
}

func dialSSE(
	ctx context.Context, target *vmcp.BackendTarget, registry auth.OutgoingAuthRegistry, oauth *oauthflow.Manager,
) (internalbk.Session, *vmcp.CapabilityList, error) {
	mcpClient, err := newSSEClient(ctx, target, registry)
	if err != nil {
		return nil, nil, err
	}

	caps, err := initializeAndDiscover(ctx, mcpClient, target)
	if err != nil {
		_ = mcpClient.Close()
		return nil, nil, err
	}
	redial := func(ctx context.Context) (*client.Client, error) {
		newClient, err := newSSEClient(ctx, target, registry)
		if err != nil {
			return nil, err
		}
		if err := initialize(ctx, newClient, target); err != nil {
			_ = newClient.Close()
			return nil, err
		}
		return newClient, nil
	}
	return newClientSession(mcpClient, target.WorkloadID, redial, authURLFunc(oauth, target)), caps, nil
}

func newSSEClient(ctx context.Context, target *vmcp.BackendTarget, registry auth.OutgoingAuthRegistry) (*client.Client, error) {
	headers, err := outgoingHeaders(ctx, target, registry)
	if err != nil {
		return nil, err
	}

	mcpClient, err := client.NewSSEMCPClient(target.BaseURL, transport.WithHeaders(headers))
	if err != nil {
		return nil, vmcperrors.NewTransportError("failed to build SSE backend client", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, classifyDialError(err)
	}
	return mcpClient, nil
}

func dialStreamableHTTP(
	ctx context.Context, target *vmcp.BackendTarget, registry auth.OutgoingAuthRegistry, oauth *oauthflow.Manager,
) (internalbk.Session, *vmcp.CapabilityList, error) {
	mcpClient, err := newStreamableHTTPClient(ctx, target, registry)
	if err != nil {
		return nil, nil, err
	}

	caps, err := initializeAndDiscover(ctx, mcpClient, target)
	if err != nil {
		_ = mcpClient.Close()
		return nil, nil, err
	}
	redial := func(ctx context.Context) (*client.Client, error) {
		newClient, err := newStreamableHTTPClient(ctx, target, registry)
		if err != nil {
			return nil, err
		}
		if err := initialize(ctx, newClient, target); err != nil {
			_ = newClient.Close()
			return nil, err
		}
		return newClient, nil
	}
	return newClientSession(mcpClient, target.WorkloadID, redial, authURLFunc(oauth, target)), caps, nil
}

func newStreamableHTTPClient(ctx context.Context, target *vmcp.BackendTarget, registry auth.OutgoingAuthRegistry) (*client.Client, error) {
	headers, err := outgoingHeaders(ctx, target, registry)
	if err != nil {
		return nil, err
	}

	mcpClient, err := client.NewStreamableHttpClient(target.BaseURL, transport.WithHTTPHeaders(headers))
	if err != nil {
		return nil, vmcperrors.NewTransportError("failed to build streamable-http backend client", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, classifyDialError(err)
	}
	return mcpClient, nil
}

// authURLFunc returns the beginAuth closure a clientSession uses to start an
// OAuth flow after a mid-call 401, or nil when the backend has no OAuth
// configuration (in which case attachAuthURL is a no-op).
func authURLFunc(oauth *oauthflow.Manager, target *vmcp.BackendTarget) func(context.Context) (string, error) {
	if oauth == nil || target == nil || target.AuthConfig == nil || target.AuthConfig.OAuth == nil {
		return nil
	}
	oauthCfg := target.AuthConfig.OAuth
	return func(_ context.Context) (string, error) {
		cfg := oauthflowConfigFrom(oauthCfg)
		redirectURL, _, err := oauth.Begin(target.WorkloadID, cfg)
		return redirectURL, err
	}
}

// oauthflowConfigFrom projects the gateway's OAuth strategy configuration
// into oauthflow.Config, filling in a loopback redirect URL from
// CallbackPort when the operator did not set one explicitly.
func oauthflowConfigFrom(o *authtypes.OAuthConfig) *oauthflow.Config {
	redirectURL := o.RedirectURL
	if redirectURL == "" && o.CallbackPort != 0 {
		redirectURL = oauthflow.CallbackURL(o.CallbackPort, "/callback")
	}
	return &oauthflow.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      o.AuthURL,
		TokenURL:     o.TokenURL,
		Scopes:       o.Scopes,
		UsePKCE:      o.UsePKCE,
		CallbackPort: o.CallbackPort,
	}
}

// outgoingHeaders asks the backend's configured auth strategy to stamp a
// throwaway *http.Request, then lifts whatever it set into a header map
// mcp-go's transport options accept directly.
func outgoingHeaders(ctx context.Context, target *vmcp.BackendTarget, registry auth.OutgoingAuthRegistry) (map[string]string, error) {
	if registry == nil || target.AuthStrategy == "" {
		return nil, nil
	}
	strategy, err := registry.GetStrategy(target.AuthStrategy)
	if err != nil {
		// An unregistered strategy (e.g. the default unauthenticated
		// deployment with no strategies wired) means "send nothing extra".
		return nil, nil
	}

	probe, _ := http.NewRequestWithContext(ctx, http.MethodPost, target.BaseURL, nil)
	if err := strategy.Authenticate(ctx, probe, target.AuthConfig); err != nil {
		return nil, vmcperrors.NewAuthenticationRequiredError("outgoing auth strategy failed", err)
	}

	headers := make(map[string]string, len(probe.Header))
	for k := range probe.Header {
		headers[k] = probe.Header.Get(k)
	}
	return headers, nil
}

// initialize performs the MCP handshake only, with no capability discovery.
// redial closures use this: a reconnected session must re-establish the
// protocol handshake but there's no need to redo discovery, since the
// composed tool/resource/prompt set was already fixed at first connect.
func initialize(ctx context.Context, mcpClient *client.Client, target *vmcp.BackendTarget) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = clientInfo
	initReq.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return vmcperrors.NewUpstreamFailureError(
			fmt.Sprintf("backend %q failed to initialize", target.WorkloadID), err)
	}
	return nil
}

func initializeAndDiscover(ctx context.Context, mcpClient *client.Client, target *vmcp.BackendTarget) (*vmcp.CapabilityList, error) {
	if err := initialize(ctx, mcpClient, target); err != nil {
		return nil, err
	}

	caps := &vmcp.CapabilityList{}

	if tools, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{}); err == nil {
		for _, t := range tools.Tools {
			caps.Tools = append(caps.Tools, vmcp.Tool{
				Name:        t.Name,
				Description: t.Description,
				BackendID:   target.WorkloadID,
			})
		}
	} else {
		logger.Debugw("backend did not advertise tools", "backend", target.WorkloadID, "error", err)
	}

	if resources, err := mcpClient.ListResources(ctx, mcp.ListResourcesRequest{}); err == nil {
		for _, r := range resources.Resources {
			caps.Resources = append(caps.Resources, vmcp.Resource{
				URI:         r.URI,
				Name:        r.Name,
				Description: r.Description,
				MimeType:    r.MIMEType,
				BackendID:   target.WorkloadID,
			})
		}
	} else {
		logger.Debugw("backend did not advertise resources", "backend", target.WorkloadID, "error", err)
	}

	if prompts, err := mcpClient.ListPrompts(ctx, mcp.ListPromptsRequest{}); err == nil {
		for _, p := range prompts.Prompts {
			prompt := vmcp.Prompt{Name: p.Name, Description: p.Description, BackendID: target.WorkloadID}
			for _, a := range p.Arguments {
				prompt.Arguments = append(prompt.Arguments, vmcp.PromptArgument{
					Name: a.Name, Description: a.Description, Required: a.Required,
				})
			}
			caps.Prompts = append(caps.Prompts, prompt)
		}
	} else {
		logger.Debugw("backend did not advertise prompts", "backend", target.WorkloadID, "error", err)
	}

	return caps, nil
}

// classifyDialError maps a transport-level dial/initialize failure into the
// gateway's typed error vocabulary so the client manager's operation
// wrapper (operation.go) can branch on it the same way it would for an
// in-session call failure. mcp-go surfaces HTTP failures as plain wrapped
// errors rather than a typed status-code error, so this falls back to
// matching the status text the transport embeds in the error message.
func classifyDialError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "Unauthorized"):
		return vmcperrors.NewAuthenticationRequiredError("backend requires authentication", err)
	case strings.Contains(msg, "400") && strings.Contains(msg, "session"):
		return vmcperrors.NewInvalidSessionIDError("backend rejected session id", err)
	case strings.Contains(msg, "HTTP"):
		return vmcperrors.NewHTTPError("backend returned an HTTP error", err)
	default:
		return vmcperrors.NewConnectionTimeoutError("failed to connect to backend", err)
	}
}
