// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
)

// Validator checks a Config's structural invariants: server_id uniqueness,
// transport-specific required fields, custom-tool name uniqueness, and that
// selections reference a server that actually exists. tool_overrides keys are
// not checked. It does not
// check selected names against an upstream server's live capabilities —
// that's a lazy, composition-time check per spec.md §3.
type Validator struct{}

// NewValidator returns a stateless Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns a *errors.Error of type ErrConfigError on the first
// invariant violation found.
func (*Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return vmcperrors.NewConfigError("config is nil", nil)
	}
	if cfg.Name == "" {
		return vmcperrors.NewConfigError("name is required", nil)
	}

	seenServers := make(map[string]bool, len(cfg.SelectedServers))
	for _, s := range cfg.SelectedServers {
		if s.ServerID == "" {
			return vmcperrors.NewConfigError("selected_servers entry missing server_id", nil)
		}
		if seenServers[s.ServerID] {
			return vmcperrors.NewConfigError(fmt.Sprintf("duplicate server_id %q", s.ServerID), nil)
		}
		seenServers[s.ServerID] = true

		if err := validateTransport(&s); err != nil {
			return err
		}
	}

	for serverID := range cfg.SelectedTools {
		if !seenServers[serverID] {
			return vmcperrors.NewConfigError(fmt.Sprintf("selected_tools references unknown server_id %q", serverID), nil)
		}
	}
	for serverID := range cfg.SelectedPrompts {
		if !seenServers[serverID] {
			return vmcperrors.NewConfigError(fmt.Sprintf("selected_prompts references unknown server_id %q", serverID), nil)
		}
	}
	for serverID := range cfg.SelectedResources {
		if !seenServers[serverID] {
			return vmcperrors.NewConfigError(fmt.Sprintf("selected_resources references unknown server_id %q", serverID), nil)
		}
	}

	seenCustomTools := make(map[string]bool, len(cfg.CustomTools))
	for _, t := range cfg.CustomTools {
		if t.Name == "" {
			return vmcperrors.NewConfigError("custom_tools entry missing name", nil)
		}
		if seenCustomTools[t.Name] {
			return vmcperrors.NewConfigError(fmt.Sprintf("duplicate custom tool name %q", t.Name), nil)
		}
		seenCustomTools[t.Name] = true

		if err := validateCustomTool(&t); err != nil {
			return err
		}
	}

	seenCustomPrompts := make(map[string]bool, len(cfg.CustomPrompts))
	for _, p := range cfg.CustomPrompts {
		if p.Name == "" {
			return vmcperrors.NewConfigError("custom_prompts entry missing name", nil)
		}
		if seenCustomPrompts[p.Name] {
			return vmcperrors.NewConfigError(fmt.Sprintf("duplicate custom prompt name %q", p.Name), nil)
		}
		seenCustomPrompts[p.Name] = true
	}

	seenCustomResources := make(map[string]bool, len(cfg.CustomResources))
	for _, r := range cfg.CustomResources {
		if r.URI == "" {
			return vmcperrors.NewConfigError("custom_resources entry missing uri", nil)
		}
		if seenCustomResources[r.URI] {
			return vmcperrors.NewConfigError(fmt.Sprintf("duplicate custom resource uri %q", r.URI), nil)
		}
		seenCustomResources[r.URI] = true
	}

	return nil
}

func validateTransport(s *UpstreamServerConfig) error {
	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return vmcperrors.NewConfigError(fmt.Sprintf("server %q: stdio transport requires command", s.ServerID), nil)
		}
	case TransportSSE, TransportStreamableHTTP:
		if s.URL == "" {
			return vmcperrors.NewConfigError(fmt.Sprintf("server %q: %s transport requires url", s.ServerID, s.Transport), nil)
		}
	default:
		return vmcperrors.NewConfigError(fmt.Sprintf("server %q: unknown transport %q", s.ServerID, s.Transport), nil)
	}
	return nil
}

func validateCustomTool(t *CustomTool) error {
	switch t.Type {
	case CustomToolPrompt:
		if t.Text == "" {
			return vmcperrors.NewConfigError(fmt.Sprintf("custom tool %q: prompt type requires text", t.Name), nil)
		}
	case CustomToolHTTP:
		if t.URL == "" {
			return vmcperrors.NewConfigError(fmt.Sprintf("custom tool %q: http type requires url", t.Name), nil)
		}
		if t.Method == "" {
			t.Method = "GET"
		}
	case CustomToolPython:
		if t.Source == "" {
			return vmcperrors.NewConfigError(fmt.Sprintf("custom tool %q: python type requires source", t.Name), nil)
		}
	default:
		return vmcperrors.NewConfigError(fmt.Sprintf("custom tool %q: unknown type %q", t.Name, t.Type), nil)
	}
	for _, v := range t.Variables {
		switch v.Type {
		case "int", "float", "bool", "list", "dict", "str", "":
		default:
			return vmcperrors.NewConfigError(fmt.Sprintf("custom tool %q: variable %q has unknown type %q", t.Name, v.Name, v.Type), nil)
		}
	}
	return nil
}
