//go:build linux

package sandbox

import (
	"fmt"
	"os/exec"
)

// DefaultSeccompFilterPath is the vendored BPF filter bwrap loads via
// --seccomp. A real deployment overrides this via BwrapCompiler.SeccompPath.
const DefaultSeccompFilterPath = "/usr/share/vmcp/seccomp/default.bpf"

// BwrapCompiler compiles a PolicyRuleSet into a bwrap invocation plus a
// seccomp BPF filter reference and proxy environment variables.
type BwrapCompiler struct {
	SeccompPath string
	HTTPProxy   string // host:port the HTTP_PROXY/HTTPS_PROXY env vars point at
	SOCKSProxy  string // host:port the ALL_PROXY env var points at
}

// NewBwrapCompiler returns a compiler using DefaultSeccompFilterPath.
func NewBwrapCompiler() *BwrapCompiler {
	return &BwrapCompiler{SeccompPath: DefaultSeccompFilterPath}
}

// Available reports whether bwrap exists on this machine.
func (c *BwrapCompiler) Available() bool {
	_, err := exec.LookPath("bwrap")
	return err == nil
}

// Compile builds a bwrap argv that namespaces pid/mount/net, binds every
// write_allow root read-write, mounts the rest of the filesystem
// read-only, loads the vendored seccomp filter, and (when network access
// is restricted) exports proxy environment variables pointing at a
// co-located HTTP/SOCKS proxy instead of granting direct network access.
func (c *BwrapCompiler) Compile(spec CommandSpec, rules *PolicyRuleSet, sessionTag string) (*ExecEnv, error) {
	if rules == nil || !rules.IsRestricted() {
		return &ExecEnv{Command: append([]string{spec.Program}, spec.Args...), Cwd: spec.Cwd}, nil
	}

	seccomp := c.SeccompPath
	if seccomp == "" {
		seccomp = DefaultSeccompFilterPath
	}
	if _, err := exec.LookPath("bwrap"); err != nil {
		return nil, &PolicyCompileError{Reason: "bwrap not available", Cause: err}
	}

	cmd := []string{"bwrap"}
	cmd = append(cmd, "--ro-bind", "/", "/")
	cmd = append(cmd, "--tmpfs", "/tmp")
	cmd = append(cmd, "--dev", "/dev")
	cmd = append(cmd, "--proc", "/proc")

	for _, root := range rules.WriteAllow {
		if containsGlobChars(root) {
			// bwrap bind mounts require a concrete path; use the glob's
			// static prefix as the writable root and rely on the program
			// itself (plus its own write_deny_within_allow checks) for
			// finer-grained enforcement within it.
			if prefix := staticPrefix(root); prefix != "" {
				cmd = append(cmd, "--bind", prefix, prefix)
			}
			continue
		}
		cmd = append(cmd, "--bind", root, root)
	}

	cmd = append(cmd, "--unshare-pid", "--unshare-uts", "--unshare-ipc")
	if !rules.AllowNetwork {
		cmd = append(cmd, "--unshare-net")
	}
	cmd = append(cmd, "--seccomp", seccomp)

	if spec.Cwd != "" {
		cmd = append(cmd, "--chdir", spec.Cwd)
	}

	cmd = append(cmd, "--", spec.Program)
	cmd = append(cmd, spec.Args...)

	env := map[string]string{}
	if !rules.AllowNetwork {
		if c.HTTPProxy != "" {
			env["HTTP_PROXY"] = "http://" + c.HTTPProxy
			env["HTTPS_PROXY"] = "http://" + c.HTTPProxy
		}
		if c.SOCKSProxy != "" {
			env["ALL_PROXY"] = "socks5://" + c.SOCKSProxy
		}
	}
	if rules.HTTPProxyPort != 0 {
		env["HTTP_PROXY"] = fmt.Sprintf("http://127.0.0.1:%d", rules.HTTPProxyPort)
		env["HTTPS_PROXY"] = env["HTTP_PROXY"]
	}
	if rules.SOCKSProxyPort != 0 {
		env["ALL_PROXY"] = fmt.Sprintf("socks5://127.0.0.1:%d", rules.SOCKSProxyPort)
	}

	return &ExecEnv{Command: cmd, Cwd: spec.Cwd, Env: env}, nil
}
