// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package toolengine implements the three custom-tool kinds a VMCPConfig
// can declare (spec.md §4.10): a rendered prompt, a templated HTTP call, and
// a sandboxed Python script, plus custom prompts and the local custom
// resource store.
package toolengine

import (
	"context"
	"fmt"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/composer"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/config"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/template"
)

// UpstreamCaller is the subset of the Execution Router a custom tool's
// template body can reach back out through (its @tool./@resource./@prompt.
// directives reference an upstream server by the same composed name the
// router already dispatches). *router.Router satisfies this structurally.
type UpstreamCaller interface {
	CallTool(ctx context.Context, name string, arguments, environment map[string]any) (*vmcp.ToolCallResult, error)
	ReadResource(ctx context.Context, uri string) (*vmcp.ResourceReadResult, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]any) (*vmcp.PromptGetResult, error)
}

// Engine implements router.CustomToolEngine: it executes every custom
// tool/prompt/resource a Composition declared, and the sandbox execute_bash
// tool when enabled.
type Engine struct {
	composition *composer.Composition
	environment map[string]string
	parser      *template.Parser
	sandbox     *PythonRunner
}

// New returns an Engine serving composition's custom tools/prompts/
// resources. caller resolves @tool./@resource./@prompt. directives that
// reach back out to an upstream server from within a custom tool's body;
// sandbox may be nil when composition.SandboxEnabled is false.
func New(composition *composer.Composition, environment map[string]string, caller UpstreamCaller, sandbox *PythonRunner) *Engine {
	e := &Engine{composition: composition, environment: environment, sandbox: sandbox}
	e.parser = template.NewParser(&resolverAdapter{composition: composition, caller: caller})
	return e
}

func (e *Engine) envAsAny() map[string]any {
	out := make(map[string]any, len(e.environment))
	for k, v := range e.environment {
		out[k] = v
	}
	return out
}

// CallTool implements router.CustomToolEngine.
func (e *Engine) CallTool(ctx context.Context, name string, arguments, environment map[string]any) (*vmcp.ToolCallResult, error) {
	if name == composer.SandboxToolName() {
		return e.callSandboxTool(ctx, arguments)
	}

	tool, ok := e.composition.CustomTools[name]
	if !ok {
		return nil, vmcperrors.NewInvalidArgumentError("unknown custom tool "+name, nil)
	}

	switch tool.Type {
	case config.CustomToolPrompt:
		return e.callPromptTool(ctx, &tool, arguments)
	case config.CustomToolHTTP:
		return e.callHTTPTool(ctx, &tool, arguments)
	case config.CustomToolPython:
		return e.callPythonTool(ctx, &tool, arguments)
	default:
		return nil, vmcperrors.NewInvalidArgumentError("unknown custom tool type "+string(tool.Type), nil)
	}
}

func (e *Engine) callPromptTool(ctx context.Context, tool *config.CustomTool, arguments map[string]any) (*vmcp.ToolCallResult, error) {
	rendered, err := e.parser.Expand(ctx, tool.Text, arguments, e.envAsAny())
	if err != nil {
		return &vmcp.ToolCallResult{IsError: true, Content: []vmcp.Content{{Type: "text", Text: err.Error()}}}, nil
	}
	return &vmcp.ToolCallResult{Content: []vmcp.Content{{Type: "text", Text: rendered}}}, nil
}

// GetPrompt implements router.CustomToolEngine.
func (e *Engine) GetPrompt(ctx context.Context, name string, arguments map[string]any) (*vmcp.PromptGetResult, error) {
	if prompt, ok := e.composition.CustomPrompts[name]; ok {
		rendered, err := e.parser.Expand(ctx, prompt.Text, arguments, e.envAsAny())
		if err != nil {
			return nil, err
		}
		return &vmcp.PromptGetResult{Messages: rendered}, nil
	}

	// A custom tool can also be surfaced as a prompt (spec.md §4.8's
	// "custom tools as prompts" fallback): reuse its own Text/engine output
	// as the rendered prompt body.
	if tool, ok := e.composition.CustomTools[name]; ok && tool.Type == config.CustomToolPrompt {
		rendered, err := e.parser.Expand(ctx, tool.Text, arguments, e.envAsAny())
		if err != nil {
			return nil, err
		}
		return &vmcp.PromptGetResult{Messages: rendered}, nil
	}

	return nil, vmcperrors.NewInvalidArgumentError("unknown custom prompt "+name, nil)
}

// ReadResource implements router.CustomToolEngine: uri already carries the
// "custom:" scheme the composer stored it under.
func (e *Engine) ReadResource(_ context.Context, uri string) (*vmcp.ResourceReadResult, error) {
	resource, ok := e.composition.CustomResources[uri]
	if !ok {
		return nil, vmcperrors.NewInvalidArgumentError("unknown custom resource "+uri, nil)
	}
	mimeType := resource.MimeType
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return &vmcp.ResourceReadResult{Contents: []byte(resource.Content), MimeType: mimeType}, nil
}

func (e *Engine) callSandboxTool(ctx context.Context, arguments map[string]any) (*vmcp.ToolCallResult, error) {
	if e.sandbox == nil {
		return nil, vmcperrors.NewSandboxFailureError("sandbox is not enabled for this vMCP instance", nil)
	}
	command, _ := arguments["command"].(string)
	if command == "" {
		return nil, vmcperrors.NewInvalidArgumentError("execute_bash requires a non-empty command argument", nil)
	}
	return e.sandbox.RunBash(ctx, command)
}

// resolverAdapter lets the template package's Resolver dispatch @tool./
// @resource./@prompt. directives through the router without template
// importing either composer or router.
type resolverAdapter struct {
	composition *composer.Composition
	caller      UpstreamCaller
}

func (r *resolverAdapter) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	if r.caller == nil {
		return "", vmcperrors.NewInternalError("no upstream caller configured for template expansion", nil)
	}
	name := composedToolName(r.composition, server, tool)
	result, err := r.caller.CallTool(ctx, name, args, nil)
	if err != nil {
		return "", err
	}
	return firstText(result), nil
}

func (r *resolverAdapter) ReadResource(ctx context.Context, server, name string) (string, error) {
	if r.caller == nil {
		return "", vmcperrors.NewInternalError("no upstream caller configured for template expansion", nil)
	}
	result, err := r.caller.ReadResource(ctx, server+":"+name)
	if err != nil {
		return "", err
	}
	return string(result.Contents), nil
}

func (r *resolverAdapter) GetPrompt(ctx context.Context, server, prompt string, args map[string]any) (string, error) {
	if r.caller == nil {
		return "", vmcperrors.NewInternalError("no upstream caller configured for template expansion", nil)
	}
	name := composedPromptName(r.composition, server, prompt)
	result, err := r.caller.GetPrompt(ctx, name, args)
	if err != nil {
		return "", err
	}
	return result.Messages, nil
}

// composedToolName finds the composed (prefixed) name that routes back to
// server/originalName, falling back to the naive prefix convention when the
// pair isn't in the routing table (e.g. a tool override renamed it).
func composedToolName(c *composer.Composition, server, originalName string) string {
	for composed, route := range c.ToolRoutes {
		if route.ServerID == server && route.OriginalName == originalName {
			return composed
		}
	}
	return fmt.Sprintf("%s_%s", server, originalName)
}

func composedPromptName(c *composer.Composition, server, originalName string) string {
	for composed, route := range c.PromptRoutes {
		if route.ServerID == server && route.OriginalName == originalName {
			return composed
		}
	}
	return fmt.Sprintf("%s_%s", server, originalName)
}

func firstText(result *vmcp.ToolCallResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}
