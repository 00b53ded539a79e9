// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package vmcpctl implements the thin client CLI used from inside a vMCP's
// Python sandbox (or any shell) to talk to an already-running "vmcp serve"
// instance: list its composed tools/prompts/resources and call a tool.
package vmcpctl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// sandboxConfigFile mirrors sandbox.vmcpConfigFile's on-disk shape
// (~/.vmcp/<id>/.vmcp-config.json). That package keeps its struct
// unexported, so this is a second, deliberately minimal reader: vmcpctl
// only ever needs the vmcp_id field back out of a file it does not own.
type sandboxConfigFile struct {
	VMCPID         string `json:"vmcp_id"`
	SandboxEnabled bool   `json:"sandbox_enabled"`
}

// ActiveVMCP describes the vMCP whose sandbox the caller is currently
// running in.
type ActiveVMCP struct {
	ID          string
	SandboxPath string
	Enabled     bool
}

// vmcpHome returns ~/.vmcp, falling back to "." if the home directory
// cannot be resolved.
func vmcpHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".vmcp")
}

// DetectActive resolves the active vMCP the same way the Python SDK's
// ActiveVMCPManager does: by checking whether the current working
// directory sits under ~/.vmcp/<id> and reading that sandbox's
// .vmcp-config.json. Returns nil, nil (not an error) when the caller is
// not inside a sandbox directory.
func DetectActive() (*ActiveVMCP, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return detectActiveIn(cwd, vmcpHome())
}

func detectActiveIn(cwd, home string) (*ActiveVMCP, error) {
	rel, err := filepath.Rel(home, cwd)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, nil
	}

	sandboxPath := cwd
	if rel != "." {
		// cwd may be a subdirectory of the sandbox (e.g. its venv); the
		// sandbox itself is always the first path segment under home.
		first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
		sandboxPath = filepath.Join(home, first)
	}

	cfg, err := readSandboxConfig(sandboxPath)
	if err != nil || cfg == nil {
		return nil, err
	}
	return &ActiveVMCP{ID: cfg.VMCPID, SandboxPath: sandboxPath, Enabled: cfg.SandboxEnabled}, nil
}

func readSandboxConfig(sandboxPath string) (*sandboxConfigFile, error) {
	data, err := os.ReadFile(filepath.Join(sandboxPath, ".vmcp-config.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg sandboxConfigFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListKnown enumerates every vMCP this machine has ever sandboxed, by
// scanning ~/.vmcp/*/.vmcp-config.json. There is no admin API or shared
// database to query here (vmcp serve is a single-config, single-process
// gateway), so this is the local substitute for the SDK's remote
// "list all vMCPs" call: it can only ever see vMCPs that were sandboxed
// on this machine.
func ListKnown() ([]ActiveVMCP, error) {
	entries, err := os.ReadDir(vmcpHome())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []ActiveVMCP
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(vmcpHome(), e.Name())
		cfg, err := readSandboxConfig(dir)
		if err != nil || cfg == nil {
			continue
		}
		out = append(out, ActiveVMCP{ID: cfg.VMCPID, SandboxPath: dir, Enabled: cfg.SandboxEnabled})
	}
	return out, nil
}
