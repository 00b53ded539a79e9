// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config defines the VMCPConfig data model a composer loads to build
// one user's view of a vMCP instance: which upstream servers it composes,
// which of their capabilities are exposed, any renames/overrides, the custom
// tools/prompts/resources it adds, and its environment variables.
package config

import (
	authtypes "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
)

// TransportType names one of the three upstream transports a server can be
// reached over.
type TransportType string

const (
	TransportStdio          TransportType = "stdio"
	TransportSSE            TransportType = "sse"
	TransportStreamableHTTP TransportType = "http"
)

// CustomToolType names one of the three custom-tool engines.
type CustomToolType string

const (
	CustomToolPrompt  CustomToolType = "prompt"
	CustomToolHTTP    CustomToolType = "http"
	CustomToolPython  CustomToolType = "python"
)

// UpstreamServerConfig describes one upstream MCP server a VMCPConfig
// composes. server_id is stable and unique per owner; bearer tokens are
// opaque to this package.
type UpstreamServerConfig struct {
	ServerID  string            `yaml:"server_id"`
	Name      string            `yaml:"name"`
	Transport TransportType     `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Auth      *BackendAuth      `yaml:"auth,omitempty"`
	SessionID string            `yaml:"session_id,omitempty"`
	Status    string            `yaml:"status,omitempty"`
}

// BackendAuth is the bearer-token shape spec.md §3 describes for
// UpstreamServerConfig.auth; it is projected into authtypes.BackendAuthStrategy
// for the outgoing-auth strategy registry to consume.
type BackendAuth struct {
	Type        string `yaml:"type"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	HeaderName  string `yaml:"header_name,omitempty"`

	// OAuth fields, used when Type == "oauth". Drives the Authorization
	// Code + PKCE flow in pkg/vmcp/auth/oauthflow.
	ClientID     string   `yaml:"client_id,omitempty"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	RedirectURL  string   `yaml:"redirect_url,omitempty"`
	AuthURL      string   `yaml:"authorization_url,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
	UsePKCE      bool     `yaml:"use_pkce,omitempty"`
	CallbackPort int      `yaml:"callback_port,omitempty"`
}

// ToStrategy projects a BackendAuth into the outgoing-auth strategy
// vocabulary used by pkg/vmcp/auth.
func (b *BackendAuth) ToStrategy() *authtypes.BackendAuthStrategy {
	if b == nil {
		return nil
	}
	switch b.Type {
	case "bearer", "header_injection":
		headerName := b.HeaderName
		if headerName == "" {
			headerName = "Authorization"
		}
		headerValue := b.BearerToken
		if b.Type == "bearer" && headerValue != "" {
			headerValue = "Bearer " + headerValue
		}
		return &authtypes.BackendAuthStrategy{
			Type: "header_injection",
			HeaderInjection: &authtypes.HeaderInjectionConfig{
				HeaderName:  headerName,
				HeaderValue: headerValue,
			},
		}
	case "oauth":
		return &authtypes.BackendAuthStrategy{
			Type: authtypes.StrategyTypeOAuth,
			OAuth: &authtypes.OAuthConfig{
				ClientID:     b.ClientID,
				ClientSecret: b.ClientSecret,
				RedirectURL:  b.RedirectURL,
				AuthURL:      b.AuthURL,
				TokenURL:     b.TokenURL,
				Scopes:       b.Scopes,
				UsePKCE:      b.UsePKCE,
				CallbackPort: b.CallbackPort,
			},
		}
	default:
		return &authtypes.BackendAuthStrategy{Type: "unauthenticated"}
	}
}

// ToolOverride renames, redescribes, or attaches widget metadata to a
// composed tool or prompt without changing what it dispatches to upstream.
type ToolOverride struct {
	Name        string         `yaml:"name,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Widget      map[string]any `yaml:"widget,omitempty"`
}

// CustomTool is one of the three composer-injected tool kinds: a rendered
// prompt, a templated HTTP call, or a sandboxed Python script.
type CustomTool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Type        CustomToolType `yaml:"type"`
	Variables   []ToolVariable `yaml:"variables,omitempty"`

	// CustomToolPrompt
	Text string `yaml:"text,omitempty"`

	// CustomToolHTTP
	Method  string            `yaml:"method,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`

	// CustomToolPython
	Source string `yaml:"source,omitempty"`
}

// ToolVariable declares one named, typed argument a custom tool accepts
// when its schema isn't derived from a Python function signature.
type ToolVariable struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"` // int, float, bool, list, dict, str
	Description string `yaml:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
	Default     any    `yaml:"default,omitempty"`
}

// CustomPrompt and CustomResource are composer-injected capabilities that
// are not backed by any upstream server.
type CustomPrompt struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Text        string         `yaml:"text"`
	Variables   []ToolVariable `yaml:"variables,omitempty"`
}

type CustomResource struct {
	URI         string `yaml:"uri"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	MimeType    string `yaml:"mime_type,omitempty"`
	Content     string `yaml:"content"`
}

// Metadata carries instance-level flags the composer consults outside the
// per-capability model, e.g. whether to inject the sandbox tool.
type Metadata struct {
	SandboxEnabled bool `yaml:"sandbox_enabled"`
}

// Config is this repository's VMCPConfig (spec.md §3): one user's
// composition of a set of upstream servers into a single vMCP instance.
// id is immutable once assigned; name is unique per owner.
type Config struct {
	ID      string `yaml:"id"`
	UserID  string `yaml:"user_id"`
	Name    string `yaml:"name"`

	SelectedServers []UpstreamServerConfig `yaml:"selected_servers"`

	SelectedTools            map[string][]string `yaml:"selected_tools,omitempty"`
	SelectedPrompts          map[string][]string `yaml:"selected_prompts,omitempty"`
	SelectedResources        map[string][]string `yaml:"selected_resources,omitempty"`
	SelectedResourceTemplates map[string][]string `yaml:"selected_resource_templates,omitempty"`

	ToolOverrides map[string]ToolOverride `yaml:"tool_overrides,omitempty"`

	CustomTools     []CustomTool     `yaml:"custom_tools,omitempty"`
	CustomPrompts   []CustomPrompt   `yaml:"custom_prompts,omitempty"`
	CustomResources []CustomResource `yaml:"custom_resources,omitempty"`

	EnvironmentVariables map[string]string `yaml:"environment_variables,omitempty"`

	Metadata Metadata `yaml:"metadata"`
}

// ServerByID returns the selected server configured under id, or nil.
func (c *Config) ServerByID(id string) *UpstreamServerConfig {
	for i := range c.SelectedServers {
		if c.SelectedServers[i].ServerID == id {
			return &c.SelectedServers[i]
		}
	}
	return nil
}
