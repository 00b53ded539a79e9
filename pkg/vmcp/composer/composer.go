// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package composer builds one vMCP instance's downstream-facing capability
// list: upstream tools/resources/prompts (renamed and filtered per the
// instance's VMCPConfig), custom tools/prompts/resources, the sandbox
// execute_bash tool when enabled, and a fixed set of default prompts.
package composer

import (
	"sort"
	"strings"
	"sync"

	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/config"
)

// ToolRoute records which upstream server a composed tool or prompt name
// dispatches to, and under what name the server itself knows it.
type ToolRoute struct {
	ServerID     string
	OriginalName string
	Widget       map[string]any
}

// ResourceRoute is the resource-URI equivalent of ToolRoute.
type ResourceRoute struct {
	ServerID    string
	OriginalURI string
}

// CapabilityCache is the "upstream store" spec.md §4.7 step 2 reads cached
// capabilities from. ClientManager.ConnectServer's return value is adapted
// into one of these as each selected server connects.
type CapabilityCache interface {
	Get(serverID string) *vmcp.CapabilityList
}

// MapCapabilityCache is the default in-memory CapabilityCache, populated as
// servers connect.
type MapCapabilityCache struct {
	mu    sync.RWMutex
	caps  map[string]*vmcp.CapabilityList
}

// NewMapCapabilityCache returns an empty cache.
func NewMapCapabilityCache() *MapCapabilityCache {
	return &MapCapabilityCache{caps: make(map[string]*vmcp.CapabilityList)}
}

// Put stores (or replaces) the capabilities advertised by serverID.
func (c *MapCapabilityCache) Put(serverID string, caps *vmcp.CapabilityList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps[serverID] = caps
}

// Get implements CapabilityCache.
func (c *MapCapabilityCache) Get(serverID string) *vmcp.CapabilityList {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps[serverID]
}

// Composition is the fully-built, downstream-facing capability set for one
// vMCP instance, plus the routing information the Execution Router needs to
// dispatch a composed name back to its owner.
type Composition struct {
	Tools     []vmcp.Tool
	Resources []vmcp.Resource
	Prompts   []vmcp.Prompt

	ToolRoutes     map[string]ToolRoute
	PromptRoutes   map[string]ToolRoute
	ResourceRoutes map[string]ResourceRoute

	CustomTools     map[string]config.CustomTool
	CustomPrompts   map[string]config.CustomPrompt
	CustomResources map[string]config.CustomResource

	SandboxEnabled bool
}

// Composer builds a Composition from a Config and a CapabilityCache.
type Composer struct {
	cache CapabilityCache
}

// New returns a Composer reading upstream capabilities from cache.
func New(cache CapabilityCache) *Composer {
	return &Composer{cache: cache}
}

// Compose implements spec.md §4.7 steps 1-6. Tool/prompt name collisions
// resolve first-wins within a category: upstream first (in selected_servers
// order), then custom, then sandbox, then defaults.
func (c *Composer) Compose(cfg *config.Config) *Composition {
	out := &Composition{
		ToolRoutes:      make(map[string]ToolRoute),
		PromptRoutes:    make(map[string]ToolRoute),
		ResourceRoutes:  make(map[string]ResourceRoute),
		CustomTools:     make(map[string]config.CustomTool),
		CustomPrompts:   make(map[string]config.CustomPrompt),
		CustomResources: make(map[string]config.CustomResource),
		SandboxEnabled:  cfg.Metadata.SandboxEnabled,
	}

	for _, server := range cfg.SelectedServers {
		c.composeServer(cfg, &server, out)
	}

	c.appendCustomTools(cfg, out)
	c.appendCustomPrompts(cfg, out)
	c.appendCustomResources(cfg, out)

	if cfg.Metadata.SandboxEnabled {
		appendSandboxTool(out)
	}

	appendDefaultPrompts(out)

	return out
}

func (c *Composer) composeServer(cfg *config.Config, server *config.UpstreamServerConfig, out *Composition) {
	caps := c.cache.Get(server.ServerID)
	if caps == nil {
		return
	}
	prefix := prefixFor(server.Name)

	selectedTools := selectionSet(cfg.SelectedTools[server.ServerID])
	for _, t := range caps.Tools {
		if selectedTools != nil && !selectedTools[t.Name] {
			continue
		}
		composedName := prefix + "_" + t.Name
		if _, exists := out.ToolRoutes[composedName]; exists {
			continue
		}
		tool := vmcp.Tool{Name: composedName, Description: t.Description, InputSchema: t.InputSchema, BackendID: server.ServerID}
		route := ToolRoute{ServerID: server.ServerID, OriginalName: t.Name}
		if override, ok := cfg.ToolOverrides[composedName]; ok {
			applyToolOverride(&tool, &route, &override)
		}
		out.Tools = append(out.Tools, tool)
		out.ToolRoutes[tool.Name] = route
	}

	selectedPrompts := selectionSet(cfg.SelectedPrompts[server.ServerID])
	for _, p := range caps.Prompts {
		if selectedPrompts != nil && !selectedPrompts[p.Name] {
			continue
		}
		composedName := prefix + "_" + p.Name
		if _, exists := out.PromptRoutes[composedName]; exists {
			continue
		}
		prompt := vmcp.Prompt{Name: composedName, Description: p.Description, Arguments: p.Arguments, BackendID: server.ServerID}
		out.Prompts = append(out.Prompts, prompt)
		out.PromptRoutes[composedName] = ToolRoute{ServerID: server.ServerID, OriginalName: p.Name}
	}

	selectedResources := selectionSet(cfg.SelectedResources[server.ServerID])
	for _, r := range caps.Resources {
		if selectedResources != nil && !selectedResources[r.URI] {
			continue
		}
		composedURI := prefix + ":" + r.URI
		if _, exists := out.ResourceRoutes[composedURI]; exists {
			continue
		}
		resource := vmcp.Resource{URI: composedURI, Name: r.Name, Description: r.Description, MimeType: r.MimeType, BackendID: server.ServerID}
		out.Resources = append(out.Resources, resource)
		out.ResourceRoutes[composedURI] = ResourceRoute{ServerID: server.ServerID, OriginalURI: r.URI}
	}
}

func applyToolOverride(tool *vmcp.Tool, route *ToolRoute, override *config.ToolOverride) {
	if override.Name != "" {
		tool.Name = override.Name
	}
	if override.Description != "" {
		tool.Description = override.Description
	}
	if override.Widget != nil {
		route.Widget = override.Widget
	}
}

func (c *Composer) appendCustomTools(cfg *config.Config, out *Composition) {
	for _, t := range cfg.CustomTools {
		if _, exists := out.ToolRoutes[t.Name]; exists {
			continue
		}
		if _, exists := out.CustomTools[t.Name]; exists {
			continue
		}
		out.Tools = append(out.Tools, vmcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaFromVariables(t.Variables),
		})
		out.CustomTools[t.Name] = t
	}
}

func (c *Composer) appendCustomPrompts(cfg *config.Config, out *Composition) {
	for _, p := range cfg.CustomPrompts {
		if _, exists := out.PromptRoutes[p.Name]; exists {
			continue
		}
		if _, exists := out.CustomPrompts[p.Name]; exists {
			continue
		}
		args := make([]vmcp.PromptArgument, 0, len(p.Variables))
		for _, v := range p.Variables {
			args = append(args, vmcp.PromptArgument{Name: v.Name, Description: v.Description, Required: v.Required})
		}
		out.Prompts = append(out.Prompts, vmcp.Prompt{Name: p.Name, Description: p.Description, Arguments: args})
		out.CustomPrompts[p.Name] = p
	}
}

func (c *Composer) appendCustomResources(cfg *config.Config, out *Composition) {
	for _, r := range cfg.CustomResources {
		uri := r.URI
		if !strings.HasPrefix(uri, "custom:") {
			uri = "custom:" + uri
		}
		if _, exists := out.ResourceRoutes[uri]; exists {
			continue
		}
		out.Resources = append(out.Resources, vmcp.Resource{URI: uri, Name: r.Name, Description: r.Description, MimeType: r.MimeType})
		out.CustomResources[uri] = r
	}
}

const sandboxToolName = "execute_bash"

// SandboxToolName is the fixed name of the composer-injected sandbox tool.
func SandboxToolName() string { return sandboxToolName }

// appendSandboxTool injects the sandbox execute_bash tool per spec.md §4.7
// step 5 when SandboxEnabled. The actual loader-template text (parameterized
// by the sandbox's absolute path) is filled in by the toolengine package at
// dispatch time, not here: Compose only needs to advertise the tool exists.
func appendSandboxTool(out *Composition) {
	if _, exists := out.ToolRoutes[sandboxToolName]; exists {
		return
	}
	if _, exists := out.CustomTools[sandboxToolName]; exists {
		return
	}
	out.Tools = append(out.Tools, vmcp.Tool{
		Name:        sandboxToolName,
		Description: "Execute a bash command inside this vMCP instance's isolated sandbox.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"command": map[string]any{"type": "string"}},
			"required":   []string{"command"},
		},
	})
}

// removeSandboxTool drops a previously-injected sandbox tool from out.Tools.
// Its only caller is RemoveSandboxToolIfDisabled.
func removeSandboxTool(out *Composition) {
	for i, t := range out.Tools {
		if t.Name == sandboxToolName {
			out.Tools = append(out.Tools[:i], out.Tools[i+1:]...)
			return
		}
	}
}

// RemoveSandboxToolIfDisabled is exported so the gateway can re-run the
// staleness check after reloading a config whose sandbox flag changed.
func RemoveSandboxToolIfDisabled(out *Composition, cfg *config.Config) {
	if !cfg.Metadata.SandboxEnabled {
		removeSandboxTool(out)
	}
}

// defaultPrompts is the fixed, implementer-known set spec.md §4.7 step 6
// refers to without naming: one prompt documenting this gateway's own
// composed surface, since nothing else advertises it.
func appendDefaultPrompts(out *Composition) {
	const name = "vmcp_help"
	if _, exists := out.PromptRoutes[name]; exists {
		return
	}
	if _, exists := out.CustomPrompts[name]; exists {
		return
	}
	out.Prompts = append(out.Prompts, vmcp.Prompt{
		Name:        name,
		Description: "Describes the tools, resources, and prompts this vMCP instance composes.",
	})
}

func prefixFor(serverName string) string {
	return strings.ReplaceAll(serverName, "_", "")
}

func selectionSet(names []string) map[string]bool {
	if names == nil {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func schemaFromVariables(vars []config.ToolVariable) map[string]any {
	if len(vars) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	properties := make(map[string]any, len(vars))
	required := make([]string, 0, len(vars))
	for _, v := range vars {
		jsonType := v.Type
		switch jsonType {
		case "int", "float":
			jsonType = "number"
		case "dict":
			jsonType = "object"
		case "list":
			jsonType = "array"
		case "", "str":
			jsonType = "string"
		}
		prop := map[string]any{"type": jsonType}
		if v.Description != "" {
			prop["description"] = v.Description
		}
		properties[v.Name] = prop
		if v.Required {
			required = append(required, v.Name)
		}
	}
	sort.Strings(required)
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
