// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package template implements the two-phase text substitution used by
// custom tool/prompt text: a directive phase that resolves gateway-specific
// references (`@param.`, `@config.`, `@resource.`, `@tool.`, `@prompt.`)
// followed by a general-purpose templating phase for anything else the
// author wrote.
package template

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
)

// Resolver is the subset of the composed session the directive phase needs
// to reach out to other capabilities while expanding a template. The
// router/composer implement this; the parser has no dependency on either.
type Resolver interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error)
	ReadResource(ctx context.Context, server, name string) (string, error)
	GetPrompt(ctx context.Context, server, prompt string, args map[string]any) (string, error)
}

// directivePattern matches the five gateway directives. Group 1 is the
// directive kind, group 2 is everything after the first `.`.
var directivePattern = regexp.MustCompile(`@(param|config|resource|tool|prompt)\.([A-Za-z0-9_.]+)(\([^)]*\))?`)

// Parser expands tool/prompt source text against one call's arguments and a
// vMCP instance's environment variables.
type Parser struct {
	resolver Resolver
}

// NewParser returns a Parser that dispatches @resource/@tool/@prompt
// directives through resolver.
func NewParser(resolver Resolver) *Parser {
	return &Parser{resolver: resolver}
}

// Expand runs both phases over text and returns the fully rendered result.
// Non-template text (no directives, no `{{`/`{%`/`{#`) is returned
// unchanged. A Jinja-phase parse failure is not an error: the
// post-directive text is returned as-is, matching spec's
// raise-nothing-on-template-engine-absence guidance.
func (p *Parser) Expand(ctx context.Context, text string, arguments, environment map[string]any) (string, error) {
	afterDirectives, err := p.expandDirectives(ctx, text, arguments, environment)
	if err != nil {
		return "", err
	}

	if !looksLikeTemplate(afterDirectives) {
		return afterDirectives, nil
	}

	rendered, err := renderGoTemplate(afterDirectives, arguments, environment)
	if err != nil {
		// Template-phase failures are tolerated: fall back to the
		// post-directive text rather than failing the whole call.
		return afterDirectives, nil
	}
	return rendered, nil
}

func looksLikeTemplate(text string) bool {
	return strings.Contains(text, "{{") || strings.Contains(text, "{%") || strings.Contains(text, "{#")
}

func (p *Parser) expandDirectives(ctx context.Context, text string, arguments, environment map[string]any) (string, error) {
	var firstErr error
	result := directivePattern.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := directivePattern.FindStringSubmatch(match)
		kind, rest, argsLiteral := groups[1], groups[2], strings.Trim(groups[3], "()")

		expanded, err := p.expandOne(ctx, kind, rest, argsLiteral, arguments, environment)
		if err != nil {
			firstErr = err
			return match
		}
		return expanded
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func (p *Parser) expandOne(ctx context.Context, kind, rest, argsLiteral string, arguments, environment map[string]any) (string, error) {
	switch kind {
	case "param":
		val, ok := arguments[rest]
		if !ok {
			return "", vmcperrors.NewInvalidArgumentError(fmt.Sprintf("missing required parameter %q", rest), nil)
		}
		return fmt.Sprint(val), nil
	case "config":
		val, ok := environment[rest]
		if !ok {
			return "", nil
		}
		return fmt.Sprint(val), nil
	case "resource":
		server, name, err := splitPair(rest)
		if err != nil {
			return "", err
		}
		return p.resolver.ReadResource(ctx, server, name)
	case "tool":
		server, name, err := splitPair(rest)
		if err != nil {
			return "", err
		}
		args, err := parseJSONArgs(argsLiteral)
		if err != nil {
			return "", err
		}
		return p.resolver.CallTool(ctx, server, name, args)
	case "prompt":
		server, name, err := splitPair(rest)
		if err != nil {
			return "", err
		}
		args, err := parseJSONArgs(argsLiteral)
		if err != nil {
			return "", err
		}
		return p.resolver.GetPrompt(ctx, server, name, args)
	default:
		return "", vmcperrors.NewInvalidArgumentError(fmt.Sprintf("unknown directive @%s", kind), nil)
	}
}

func splitPair(rest string) (server, name string, err error) {
	idx := strings.Index(rest, ".")
	if idx < 0 {
		return "", "", vmcperrors.NewInvalidArgumentError(fmt.Sprintf("expected SERVER.NAME, got %q", rest), nil)
	}
	return rest[:idx], rest[idx+1:], nil
}

func parseJSONArgs(literal string) (map[string]any, error) {
	if literal == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(literal), &args); err != nil {
		return nil, vmcperrors.NewInvalidArgumentError(fmt.Sprintf("invalid JSON arguments %q", literal), err)
	}
	return args, nil
}

// renderGoTemplate is this repository's stand-in for the Jinja phase: no
// Jinja-for-Go library exists in the pack or a real ecosystem equivalent
// worth vendoring for a single optional phase, and the spec itself calls
// for a minimal subset over a heavyweight template engine, so stdlib
// text/template renders the context `{arguments, environment}` (aliased also
// as `param`/`config` to mirror spec's dual naming).
func renderGoTemplate(text string, arguments, environment map[string]any) (string, error) {
	tmpl, err := template.New("expand").Funcs(template.FuncMap{
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
	}).Parse(text)
	if err != nil {
		return "", err
	}

	data := map[string]any{
		"arguments":   arguments,
		"environment": environment,
		"param":       arguments,
		"config":      environment,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
