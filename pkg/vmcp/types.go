// Package vmcp defines the core domain types shared by every component of
// the gateway: the upstream Backend model, the routing table that maps a
// capability name to the backend that serves it, and the registries that
// hold the set of backends currently known to a running vMCP instance.
package vmcp

import (
	authtypes "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
)

// BackendHealthStatus is the last observed health of one upstream backend.
type BackendHealthStatus string

const (
	BackendHealthy         BackendHealthStatus = "healthy"
	BackendDegraded        BackendHealthStatus = "degraded"
	BackendUnhealthy       BackendHealthStatus = "unhealthy"
	BackendUnknown         BackendHealthStatus = "unknown"
	BackendUnauthenticated BackendHealthStatus = "unauthenticated"
)

// ConflictResolutionStrategy controls how the composer renames a
// capability that two or more backends expose under the same name.
type ConflictResolutionStrategy string

const (
	ConflictStrategyPrefix   ConflictResolutionStrategy = "prefix"
	ConflictStrategyPriority ConflictResolutionStrategy = "priority"
	ConflictStrategyManual   ConflictResolutionStrategy = "manual"
)

// Backend is one upstream MCP server configured into a vMCP instance.
type Backend struct {
	ID            string
	Name          string
	BaseURL       string
	TransportType string
	HealthStatus  BackendHealthStatus
	AuthConfig    *authtypes.BackendAuthStrategy
	Metadata      map[string]string
}

// BackendTarget is the resolved routing destination for a single
// capability: which backend serves it, under what original name, and how
// to reach and authenticate against it.
type BackendTarget struct {
	WorkloadID             string
	WorkloadName           string
	BaseURL                string
	TransportType           string
	HealthStatus           BackendHealthStatus
	AuthConfig             *authtypes.BackendAuthStrategy
	AuthStrategy           string
	AuthMetadata           map[string]any
	Metadata               map[string]string
	OriginalCapabilityName string
	SessionAffinity        bool
}

// GetBackendCapabilityName returns the name the backend itself knows a
// capability by. Conflict resolution may expose it to downstream clients
// under a different (prefixed, or manually aliased) resolvedName; this
// unwinds that rename for the call actually sent upstream.
func (t *BackendTarget) GetBackendCapabilityName(resolvedName string) string {
	if t.OriginalCapabilityName != "" {
		return t.OriginalCapabilityName
	}
	return resolvedName
}

// RoutingTable maps every composed capability name (or resource URI) to
// the backend that serves it.
type RoutingTable struct {
	Tools     map[string]*BackendTarget
	Resources map[string]*BackendTarget
	Prompts   map[string]*BackendTarget
}

// BackendToTarget projects a Backend into the BackendTarget shape the
// router and session layer consume. It returns nil for a nil backend.
func BackendToTarget(b *Backend) *BackendTarget {
	if b == nil {
		return nil
	}
	authStrategy := ""
	if b.AuthConfig != nil {
		authStrategy = b.AuthConfig.Type
	}
	return &BackendTarget{
		WorkloadID:    b.ID,
		WorkloadName:  b.Name,
		BaseURL:       b.BaseURL,
		TransportType: b.TransportType,
		HealthStatus:  b.HealthStatus,
		AuthConfig:    b.AuthConfig,
		AuthStrategy:  authStrategy,
		Metadata:      b.Metadata,
	}
}

// Tool is a single callable capability exposed by a backend, as seen after
// discovery and before composition (renaming/conflict-resolution) is
// applied by the composer.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	BackendID   string
}

// Resource is a single readable capability exposed by a backend.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	BackendID   string
}

// Prompt is a single prompt template exposed by a backend.
type Prompt struct {
	Name        string
	Description string
	Arguments   []PromptArgument
	BackendID   string
}

// PromptArgument describes one named argument a Prompt accepts.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

// CapabilityList is everything one backend advertised during session
// initialization, before cross-backend conflict resolution is applied.
type CapabilityList struct {
	Tools     []Tool
	Resources []Resource
	Prompts   []Prompt
}

// Content is one part of a tool call's result, mirroring MCP's content
// block shape (text today; image/resource blocks are carried as additional
// Content entries with a different Type once a backend emits them).
type Content struct {
	Type string
	Text string
}

// ToolCallResult is the outcome of invoking a tool on a backend.
type ToolCallResult struct {
	Content []Content
	IsError bool
}

// ResourceReadResult is the outcome of reading a resource from a backend.
type ResourceReadResult struct {
	Contents []byte
	MimeType string
}

// PromptGetResult is the outcome of resolving a prompt template against a
// backend, flattened to the rendered message text.
type PromptGetResult struct {
	Messages string
}

func cloneBackend(b Backend) Backend {
	clone := b
	if b.Metadata != nil {
		clone.Metadata = make(map[string]string, len(b.Metadata))
		for k, v := range b.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}
