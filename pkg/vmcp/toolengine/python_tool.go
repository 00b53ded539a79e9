// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package toolengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/config"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/sandbox"
)

const (
	pythonScriptTimeout = 30 * time.Second
	bashCommandTimeout  = 60 * time.Second
)

// denylistedPatterns are source-level constructs a custom Python tool is
// never allowed to contain, checked before the interpreter ever sees the
// script. This is a defense in depth layer below the OS sandbox, not a
// replacement for it: a script that never trips this check is still
// confined by the compiled PolicyRuleSet.
var denylistedPatterns = []string{
	"import os", "import subprocess", "import sys", "import socket",
	"__import__(", "eval(", "exec(", "open(", "compile(",
}

// scriptEnvelope is the fixed stdout contract a generated entry point
// writes: exactly one JSON object, success xor error populated.
type scriptEnvelope struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PythonRunner executes custom Python tools and the sandbox execute_bash
// tool inside the OS-level sandbox the pkg/vmcp/sandbox package compiles.
type PythonRunner struct {
	VMCPID   string
	Compiler sandbox.PolicyCompiler
	Rules    *sandbox.PolicyRuleSet
	Python   string // absolute path to the sandbox's interpreter
}

// NewPythonRunner returns a PythonRunner that executes inside vmcpID's
// sandbox using interpreterPath (the venv's python3 binary) and compiler.
func NewPythonRunner(vmcpID string, compiler sandbox.PolicyCompiler, rules *sandbox.PolicyRuleSet, interpreterPath string) *PythonRunner {
	return &PythonRunner{VMCPID: vmcpID, Compiler: compiler, Rules: rules, Python: interpreterPath}
}

func checkDenylist(source string) error {
	lower := strings.ToLower(source)
	for _, pattern := range denylistedPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return vmcperrors.NewSecurityError(fmt.Sprintf("disallowed construct %q in custom tool source", pattern), nil)
		}
	}
	return nil
}

func (e *Engine) callPythonTool(ctx context.Context, tool *config.CustomTool, arguments map[string]any) (*vmcp.ToolCallResult, error) {
	if e.sandbox == nil {
		return nil, vmcperrors.NewSandboxFailureError("sandbox is not enabled for this vMCP instance", nil)
	}
	if err := checkDenylist(tool.Source); err != nil {
		return nil, err
	}
	result, err := e.sandbox.RunPython(ctx, tool.Source, coerceArguments(tool.Variables, arguments))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func coerceArguments(vars []config.ToolVariable, arguments map[string]any) map[string]any {
	out := make(map[string]any, len(arguments))
	declared := make(map[string]config.ToolVariable, len(vars))
	for _, v := range vars {
		declared[v.Name] = v
	}
	for name, value := range arguments {
		if v, ok := declared[name]; ok {
			out[name] = coerceValue(v.Type, value)
			continue
		}
		out[name] = value
	}
	for name, v := range declared {
		if _, ok := out[name]; !ok && v.Default != nil {
			out[name] = v.Default
		}
	}
	return out
}

func coerceValue(varType string, value any) any {
	switch varType {
	case "int":
		if f, ok := value.(float64); ok {
			return int(f)
		}
	case "float":
		if i, ok := value.(int); ok {
			return float64(i)
		}
	case "str":
		if value != nil {
			return fmt.Sprint(value)
		}
	}
	return value
}

// RunPython writes source plus a generated entry point to a temp file,
// executes it inside the compiled sandbox, and parses the stdout envelope.
func (r *PythonRunner) RunPython(ctx context.Context, source string, arguments map[string]any) (*vmcp.ToolCallResult, error) {
	scriptPath, cleanup, err := writeEntryPoint(source, arguments)
	if err != nil {
		return nil, vmcperrors.NewSandboxFailureError("failed to prepare custom tool script", err)
	}
	defer cleanup()

	out, err := r.run(ctx, pythonScriptTimeout, []string{r.interpreter(), scriptPath})
	if err != nil {
		return nil, err
	}
	return parseEnvelope(out), nil
}

// interpreter returns the sandbox venv's python3 binary, falling back to
// the bare command name (resolved via PATH inside the compiled sandbox)
// when no explicit interpreter path was configured.
func (r *PythonRunner) interpreter() string {
	if r.Python != "" {
		return r.Python
	}
	return "python3"
}

// RunBash runs command through `bash -c` inside the sandbox, returning its
// combined stdout as the tool result's text content.
func (r *PythonRunner) RunBash(ctx context.Context, command string) (*vmcp.ToolCallResult, error) {
	out, err := r.run(ctx, bashCommandTimeout, []string{"bash", "-c", command})
	if err != nil {
		return nil, err
	}
	return &vmcp.ToolCallResult{Content: []vmcp.Content{{Type: "text", Text: string(out)}}}, nil
}

func (r *PythonRunner) run(ctx context.Context, timeout time.Duration, argv []string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spec := sandbox.CommandSpec{Program: argv[0], Args: argv[1:]}
	execEnv, err := r.Compiler.Compile(spec, r.Rules, r.VMCPID)
	if err != nil {
		return nil, vmcperrors.NewPolicyCompileError("failed to compile sandbox policy", err)
	}

	cmd := exec.CommandContext(runCtx, execEnv.Command[0], execEnv.Command[1:]...)
	cmd.Dir = execEnv.Cwd
	for k, v := range execEnv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, vmcperrors.NewOperationTimedOutError("sandboxed script exceeded its time budget", err)
		}
		return nil, vmcperrors.NewSandboxFailureError(stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

func writeEntryPoint(source string, arguments map[string]any) (path string, cleanup func(), err error) {
	dir, err := os.MkdirTemp("", "vmcp-tool-")
	if err != nil {
		return "", nil, err
	}
	cleanup = func() { _ = os.RemoveAll(dir) }

	argsJSON, err := json.Marshal(arguments)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	entry := fmt.Sprintf(`%s

import json, sys, traceback

def __vmcp_main():
    arguments = json.loads(%q)
    try:
        result = run(**arguments)
        print(json.dumps({"success": True, "result": result}))
    except Exception as exc:
        print(json.dumps({"success": False, "error": str(exc)}))

if __name__ == "__main__":
    __vmcp_main()
`, source, string(argsJSON))

	scriptPath := filepath.Join(dir, "tool.py")
	if err := os.WriteFile(scriptPath, []byte(entry), 0o600); err != nil {
		cleanup()
		return "", nil, err
	}
	return scriptPath, cleanup, nil
}

func parseEnvelope(raw []byte) *vmcp.ToolCallResult {
	var env scriptEnvelope
	if err := json.Unmarshal(bytes.TrimSpace(raw), &env); err != nil {
		return &vmcp.ToolCallResult{IsError: true, Content: []vmcp.Content{{Type: "text", Text: string(raw)}}}
	}
	if !env.Success {
		return &vmcp.ToolCallResult{IsError: true, Content: []vmcp.Content{{Type: "text", Text: env.Error}}}
	}
	resultJSON, _ := json.Marshal(env.Result)
	return &vmcp.ToolCallResult{Content: []vmcp.Content{{Type: "text", Text: string(resultJSON)}}}
}
