// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"

	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
)

func TestToMCPInputSchema_NilSchemaDefaultsToEmptyObject(t *testing.T) {
	t.Parallel()
	schema := toMCPInputSchema(nil)
	assert.Equal(t, "object", schema.Type)
	assert.Empty(t, schema.Properties)
}

func TestToMCPInputSchema_CarriesPropertiesAndRequired(t *testing.T) {
	t.Parallel()
	in := map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []string{"name"},
	}
	schema := toMCPInputSchema(in)
	assert.Equal(t, []string{"name"}, schema.Required)
	assert.Contains(t, schema.Properties, "name")
}

func TestToMCPPromptArgs_PreservesOrderAndFields(t *testing.T) {
	t.Parallel()
	args := toMCPPromptArgs([]vmcp.PromptArgument{
		{Name: "a", Description: "first", Required: true},
		{Name: "b", Description: "second", Required: false},
	})
	assert.Len(t, args, 2)
	assert.Equal(t, "a", args[0].Name)
	assert.True(t, args[0].Required)
	assert.False(t, args[1].Required)
}

func TestToMCPToolResult_FlattensTextContent(t *testing.T) {
	t.Parallel()
	result := toMCPToolResult(&vmcp.ToolCallResult{
		Content: []vmcp.Content{{Type: "text", Text: "hello"}},
		IsError: false,
	})
	assert.False(t, result.IsError)
	assert.Len(t, result.Content, 1)
}

func TestToMCPToolResult_PropagatesIsError(t *testing.T) {
	t.Parallel()
	result := toMCPToolResult(&vmcp.ToolCallResult{
		Content: []vmcp.Content{{Type: "text", Text: "boom"}},
		IsError: true,
	})
	assert.True(t, result.IsError)
}

func TestRequestMeta_NilMetaReturnsNil(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{}
	assert.Nil(t, requestMeta(req))
}

func TestRequestMeta_CarriesProgressToken(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{}
	req.Params.Meta = &mcp.Meta{ProgressToken: mcp.ProgressToken("tok-1")}

	meta := requestMeta(req)
	assert.Equal(t, mcp.ProgressToken("tok-1"), meta["progressToken"])
}

func TestRequestMeta_CarriesAdditionalFields(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{}
	req.Params.Meta = &mcp.Meta{AdditionalFields: map[string]any{"traceId": "abc"}}

	meta := requestMeta(req)
	assert.Equal(t, "abc", meta["traceId"])
}
