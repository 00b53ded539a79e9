// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/config"
)

func testCache(entries map[string]*vmcp.CapabilityList) *MapCapabilityCache {
	c := NewMapCapabilityCache()
	for id, caps := range entries {
		c.Put(id, caps)
	}
	return c
}

func TestComposer_RenamesToolsWithServerPrefix(t *testing.T) {
	t.Parallel()
	cache := testCache(map[string]*vmcp.CapabilityList{
		"github": {Tools: []vmcp.Tool{{Name: "search", Description: "search code"}}},
	})
	cfg := &config.Config{
		Name:            "mine",
		SelectedServers: []config.UpstreamServerConfig{{ServerID: "github", Name: "Git_Hub"}},
	}

	out := New(cache).Compose(cfg)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "GitHub_search", out.Tools[0].Name)
	route := out.ToolRoutes["GitHub_search"]
	assert.Equal(t, "github", route.ServerID)
	assert.Equal(t, "search", route.OriginalName)
}

func TestComposer_SelectedToolsFiltersUnlisted(t *testing.T) {
	t.Parallel()
	cache := testCache(map[string]*vmcp.CapabilityList{
		"github": {Tools: []vmcp.Tool{{Name: "search"}, {Name: "delete_repo"}}},
	})
	cfg := &config.Config{
		Name:            "mine",
		SelectedServers: []config.UpstreamServerConfig{{ServerID: "github", Name: "github"}},
		SelectedTools:   map[string][]string{"github": {"search"}},
	}

	out := New(cache).Compose(cfg)

	names := toolNames(out.Tools)
	assert.Contains(t, names, "github_search")
	assert.NotContains(t, names, "github_delete_repo")
}

func TestComposer_ToolOverrideRenamesAndAttachesWidget(t *testing.T) {
	t.Parallel()
	cache := testCache(map[string]*vmcp.CapabilityList{
		"github": {Tools: []vmcp.Tool{{Name: "search", Description: "orig"}}},
	})
	cfg := &config.Config{
		Name:            "mine",
		SelectedServers: []config.UpstreamServerConfig{{ServerID: "github", Name: "github"}},
		ToolOverrides: map[string]config.ToolOverride{
			"github_search": {Name: "code_search", Description: "better desc", Widget: map[string]any{"kind": "table"}},
		},
	}

	out := New(cache).Compose(cfg)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "code_search", out.Tools[0].Name)
	assert.Equal(t, "better desc", out.Tools[0].Description)
	route := out.ToolRoutes["code_search"]
	assert.Equal(t, map[string]any{"kind": "table"}, route.Widget)
}

func TestComposer_ResourcesUseColonPrefix(t *testing.T) {
	t.Parallel()
	cache := testCache(map[string]*vmcp.CapabilityList{
		"github": {Resources: []vmcp.Resource{{URI: "repo://readme", Name: "readme"}}},
	})
	cfg := &config.Config{
		Name:            "mine",
		SelectedServers: []config.UpstreamServerConfig{{ServerID: "github", Name: "github"}},
	}

	out := New(cache).Compose(cfg)

	require.Len(t, out.Resources, 1)
	assert.Equal(t, "github:repo://readme", out.Resources[0].URI)
}

func TestComposer_CustomToolsAppendedAfterUpstream(t *testing.T) {
	t.Parallel()
	cache := testCache(map[string]*vmcp.CapabilityList{
		"github": {Tools: []vmcp.Tool{{Name: "search"}}},
	})
	cfg := &config.Config{
		Name:            "mine",
		SelectedServers: []config.UpstreamServerConfig{{ServerID: "github", Name: "github"}},
		CustomTools: []config.CustomTool{
			{Name: "greet", Type: config.CustomToolPrompt, Text: "hi @param.name",
				Variables: []config.ToolVariable{{Name: "name", Type: "str", Required: true}}},
		},
	}

	out := New(cache).Compose(cfg)

	names := toolNames(out.Tools)
	assert.Contains(t, names, "github_search")
	assert.Contains(t, names, "greet")
	schema := out.CustomTools["greet"]
	assert.Equal(t, "hi @param.name", schema.Text)
}

func TestComposer_UpstreamToolWinsOverSameNameCustomTool(t *testing.T) {
	t.Parallel()
	cache := testCache(map[string]*vmcp.CapabilityList{
		"s": {Tools: []vmcp.Tool{{Name: "search"}}},
	})
	cfg := &config.Config{
		Name:            "mine",
		SelectedServers: []config.UpstreamServerConfig{{ServerID: "s", Name: "s"}},
		CustomTools:     []config.CustomTool{{Name: "s_search", Type: config.CustomToolPrompt, Text: "shadow"}},
	}

	out := New(cache).Compose(cfg)

	route, isUpstream := out.ToolRoutes["s_search"]
	require.True(t, isUpstream)
	assert.Equal(t, "search", route.OriginalName)
	_, isCustom := out.CustomTools["s_search"]
	assert.False(t, isCustom, "upstream tool must win first-wins collision")
}

func TestComposer_SandboxToolInjectedWhenEnabled(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Name: "mine", Metadata: config.Metadata{SandboxEnabled: true}}

	out := New(testCache(nil)).Compose(cfg)

	assert.Contains(t, toolNames(out.Tools), sandboxToolName)
	assert.True(t, out.SandboxEnabled)
}

func TestComposer_SandboxToolAbsentWhenDisabled(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Name: "mine"}

	out := New(testCache(nil)).Compose(cfg)

	assert.NotContains(t, toolNames(out.Tools), sandboxToolName)
}

func TestRemoveSandboxToolIfDisabled(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Name: "mine", Metadata: config.Metadata{SandboxEnabled: true}}
	out := New(testCache(nil)).Compose(cfg)
	require.Contains(t, toolNames(out.Tools), sandboxToolName)

	cfg.Metadata.SandboxEnabled = false
	RemoveSandboxToolIfDisabled(out, cfg)

	assert.NotContains(t, toolNames(out.Tools), sandboxToolName)
}

func TestComposer_DefaultPromptAlwaysAppended(t *testing.T) {
	t.Parallel()
	out := New(testCache(nil)).Compose(&config.Config{Name: "mine"})

	found := false
	for _, p := range out.Prompts {
		if p.Name == "vmcp_help" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestComposer_ServerWithNoCachedCapabilitiesIsSkipped(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Name:            "mine",
		SelectedServers: []config.UpstreamServerConfig{{ServerID: "missing", Name: "missing"}},
	}

	out := New(testCache(nil)).Compose(cfg)

	assert.Empty(t, out.Tools)
}

func toolNames(tools []vmcp.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
