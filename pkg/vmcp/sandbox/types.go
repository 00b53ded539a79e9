// Package sandbox implements the per-vMCP OS-level sandbox: policy
// compilation to Seatbelt (macOS) or bwrap+seccomp (Linux), sandbox
// directory lifecycle, and violation monitoring.
package sandbox

import "fmt"

// WritableRoot is one directory (or glob) that write_allow covers.
type WritableRoot string

// PolicyRuleSet is the normalized, platform-independent input to the
// policy compiler.
type PolicyRuleSet struct {
	ReadDeny            []string
	WriteAllow          []string
	WriteDenyWithinAllow []string
	AllowNetwork        bool
	AllowUnixSockets    []string
	AllowLocalBinding   bool
	HTTPProxyPort       int
	SOCKSProxyPort      int

	// MandatoryDeny augments ReadDeny/WriteDenyWithinAllow with entries a
	// collaborator requires unconditionally (e.g. the sandbox's own
	// .vmcp-config.json), regardless of what the caller's policy asked for.
	MandatoryDeny []string
}

// IsRestricted reports whether the rule set imposes any restriction at
// all. Only a rule set with every list empty and AllowNetwork set is treated
// as full access; the zero value restricts network access.
func (p *PolicyRuleSet) IsRestricted() bool {
	return p != nil && (len(p.ReadDeny) > 0 || len(p.WriteAllow) > 0 || len(p.WriteDenyWithinAllow) > 0 || len(p.MandatoryDeny) > 0 || !p.AllowNetwork)
}

// CommandSpec describes the command to be executed inside the sandbox.
type CommandSpec struct {
	Program string
	Args    []string
	Cwd     string
}

// ExecEnv is the platform-specific, fully-wrapped command ready to exec.
type ExecEnv struct {
	Command []string
	Cwd     string
	Env     map[string]string
}

// MandatoryDenyProvider supplies the mandatory-deny augmentation the
// Policy Compiler must apply regardless of the caller-supplied rule set.
// The default implementation protects the sandbox's own .vmcp-config.json
// file; a real deployment can inject one that also protects
// secrets paths, CI credentials, etc.
type MandatoryDenyProvider interface {
	MandatoryDenyPaths(vmcpID string) []string
}

// DefaultMandatoryDenyProvider protects the sandbox's own per-vMCP
// directory metadata from being overwritten by the very script it
// configures.
type DefaultMandatoryDenyProvider struct{}

func (DefaultMandatoryDenyProvider) MandatoryDenyPaths(vmcpID string) []string {
	dir := sandboxDir(vmcpID)
	return []string{dir + "/.vmcp-config.json"}
}

// PolicyCompiler translates a PolicyRuleSet into a platform-native
// ExecEnv wrapping CommandSpec.
type PolicyCompiler interface {
	Compile(spec CommandSpec, rules *PolicyRuleSet, sessionTag string) (*ExecEnv, error)
	Available() bool
}

// PolicyCompileError is returned for invalid globs, paths too long for
// the platform, or mandatory-deny lookup failures. It is never silently
// downgraded to a permissive policy.
type PolicyCompileError struct {
	Reason string
	Cause  error
}

func (e *PolicyCompileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("policy compile error: %s: %s", e.Reason, e.Cause)
	}
	return fmt.Sprintf("policy compile error: %s", e.Reason)
}

func (e *PolicyCompileError) Unwrap() error { return e.Cause }
