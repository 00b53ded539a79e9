//go:build darwin

package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// tmpdirPattern matches macOS's per-process TMPDIR layout, e.g.
// "/var/folders/XX/YYY/T/" or its "/private/var/..." spelling.
var tmpdirPattern = regexp.MustCompile(`^/(private/)?var/folders/[^/]{2}/[^/]+/T/?$`)

// SeatbeltCompiler compiles a PolicyRuleSet into a macOS Seatbelt (SBPL)
// profile and wraps the target command with sandbox-exec. rules.MandatoryDeny
// is expected to already carry any MandatoryDenyProvider output merged in by
// whoever built the rule set (the vmcp serve command's sandboxRulesForConfig).
type SeatbeltCompiler struct{}

// NewSeatbeltCompiler returns a ready-to-use compiler.
func NewSeatbeltCompiler() *SeatbeltCompiler {
	return &SeatbeltCompiler{}
}

// Available reports whether sandbox-exec exists on this machine.
func (c *SeatbeltCompiler) Available() bool {
	_, err := exec.LookPath("/usr/bin/sandbox-exec")
	return err == nil
}

// Compile wraps spec with sandbox-exec -p <SBPL>. sessionTag identifies
// this invocation's log lines in the unified log stream so a violation
// monitor can correlate "Sandbox: ... deny" entries back to the command
// that triggered them.
func (c *SeatbeltCompiler) Compile(spec CommandSpec, rules *PolicyRuleSet, sessionTag string) (*ExecEnv, error) {
	if rules == nil || !rules.IsRestricted() {
		return &ExecEnv{Command: append([]string{spec.Program}, spec.Args...), Cwd: spec.Cwd}, nil
	}

	logTag := LogTag(sessionTag)
	sbpl, err := c.generateSBPL(rules, logTag)
	if err != nil {
		return nil, &PolicyCompileError{Reason: "failed to generate seatbelt profile", Cause: err}
	}

	marker := "CMD64_" + encodeSandboxedCommand(strings.Join(append([]string{spec.Program}, spec.Args...), " ")) + "_END_" + logTag
	shellCmd := fmt.Sprintf("logger %s; exec %q %s", shellQuote(marker), spec.Program, strings.Join(quoteArgs(spec.Args), " "))

	cmd := []string{"/usr/bin/sandbox-exec", "-p", sbpl, "--", "/bin/sh", "-c", shellCmd}
	return &ExecEnv{Command: cmd, Cwd: spec.Cwd}, nil
}

// LogTag derives the unique session suffix embedded in every deny rule's
// "(with message ...)" and matched against the unified log stream's
// eventMessage predicate.
func LogTag(sessionTag string) string {
	if sessionTag == "" {
		sessionTag = uuid.NewString()
	}
	return sessionTag + "_SBX"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = shellQuote(a)
	}
	return out
}

// escapeSBPLPath JSON-quotes a path for embedding in an SBPL s-expression.
func escapeSBPLPath(path string) string {
	b, _ := json.Marshal(path)
	return string(b)
}

func (c *SeatbeltCompiler) generateSBPL(rules *PolicyRuleSet, logTag string) (string, error) {
	var sb strings.Builder

	sb.WriteString("(version 1)\n")
	fmt.Fprintf(&sb, "(deny default (with message %s))\n", escapeSBPLPath(logTag))
	sb.WriteString("\n; Process permissions\n")
	sb.WriteString("(allow process-exec)\n")
	sb.WriteString("(allow process-fork)\n")
	sb.WriteString("(allow process-info* (target same-sandbox))\n")
	sb.WriteString("(allow signal (target same-sandbox))\n")
	sb.WriteString("(allow mach-priv-task-port (target same-sandbox))\n")
	sb.WriteString("\n; User preferences\n")
	sb.WriteString("(allow user-preference-read)\n")
	sb.WriteString("\n; Mach IPC - specific services only\n")
	sb.WriteString("(allow mach-lookup\n")
	for _, name := range []string{
		"com.apple.audio.systemsoundserver",
		"com.apple.distributed_notifications@Uv3",
		"com.apple.FontObjectsServer",
		"com.apple.fonts",
		"com.apple.logd",
		"com.apple.lsd.mapdb",
		"com.apple.PowerManagement.control",
		"com.apple.system.logger",
		"com.apple.system.notification_center",
		"com.apple.trustd.agent",
		"com.apple.system.opendirectoryd.libinfo",
		"com.apple.system.opendirectoryd.membership",
		"com.apple.bsd.dirhelper",
		"com.apple.securityd.xpc",
		"com.apple.coreservices.launchservicesd",
	} {
		fmt.Fprintf(&sb, "  (global-name %q)\n", name)
	}
	sb.WriteString(")\n")
	sb.WriteString("(allow mach-lookup (global-name \"com.apple.SecurityServer\"))\n")
	sb.WriteString("\n; POSIX IPC\n")
	sb.WriteString("(allow ipc-posix-shm)\n")
	sb.WriteString("(allow ipc-posix-sem)\n")
	sb.WriteString("\n; sysctl\n")
	sb.WriteString("(allow sysctl-read)\n")
	sb.WriteString("\n; Device I/O\n")
	for _, dev := range []string{"/dev/null", "/dev/zero", "/dev/random", "/dev/urandom", "/dev/dtracehelper", "/dev/tty"} {
		fmt.Fprintf(&sb, "(allow file-ioctl (literal %s))\n", escapeSBPLPath(dev))
	}

	if err := c.writeNetworkRules(&sb, rules, logTag); err != nil {
		return "", err
	}
	if err := c.writeReadRules(&sb, rules, logTag); err != nil {
		return "", err
	}
	if err := c.writeWriteRules(&sb, rules, logTag); err != nil {
		return "", err
	}

	return sb.String(), nil
}

func (c *SeatbeltCompiler) writeNetworkRules(sb *strings.Builder, rules *PolicyRuleSet, logTag string) error {
	sb.WriteString("\n; Network\n")
	if rules.AllowNetwork {
		sb.WriteString("(allow network*)\n")
		return nil
	}

	if rules.AllowLocalBinding {
		sb.WriteString("(allow network-bind (local ip \"localhost:*\"))\n")
		sb.WriteString("(allow network-inbound (local ip \"localhost:*\"))\n")
		sb.WriteString("(allow network-outbound (local ip \"localhost:*\"))\n")
	}

	sb.WriteString("(allow network-outbound (literal \"/private/var/run/mDNSResponder\"))\n")
	sb.WriteString("(allow network-outbound (remote ip \"localhost:53\"))\n")
	sb.WriteString("(allow network-outbound (remote ip \"localhost:5353\"))\n")
	sb.WriteString("(allow system-socket)\n")

	for _, sock := range rules.AllowUnixSockets {
		fmt.Fprintf(sb, "(allow network* (subpath %s))\n", escapeSBPLPath(sock))
	}

	if rules.HTTPProxyPort != 0 {
		writeProxyPortRules(sb, rules.HTTPProxyPort)
	}
	if rules.SOCKSProxyPort != 0 {
		writeProxyPortRules(sb, rules.SOCKSProxyPort)
	}

	_ = logTag
	return nil
}

func writeProxyPortRules(sb *strings.Builder, port int) {
	fmt.Fprintf(sb, "(allow network-bind (local ip \"localhost:%d\"))\n", port)
	fmt.Fprintf(sb, "(allow network-inbound (local ip \"localhost:%d\"))\n", port)
	fmt.Fprintf(sb, "(allow network-outbound (remote ip \"localhost:%d\"))\n", port)
}

func (c *SeatbeltCompiler) writeReadRules(sb *strings.Builder, rules *PolicyRuleSet, logTag string) error {
	sb.WriteString("\n; File read\n")
	sb.WriteString("(allow file-read*)\n")

	denyPaths := append(append([]string{}, rules.ReadDeny...), c.mandatoryDenyPaths(rules)...)
	for _, pattern := range denyPaths {
		if err := writeGlobOrSubpathRule(sb, "deny file-read*", pattern, logTag); err != nil {
			return err
		}
	}
	moveRules, err := generateMoveBlockingRules(denyPaths, logTag)
	if err != nil {
		return err
	}
	sb.WriteString(moveRules)
	return nil
}

func (c *SeatbeltCompiler) writeWriteRules(sb *strings.Builder, rules *PolicyRuleSet, logTag string) error {
	sb.WriteString("\n; File write\n")
	if len(rules.WriteAllow) == 0 {
		sb.WriteString("(allow file-write*)\n")
		return nil
	}

	for _, tmp := range tmpdirParents() {
		fmt.Fprintf(sb, "(allow file-write* (subpath %s))\n", escapeSBPLPath(tmp))
	}

	for _, pattern := range rules.WriteAllow {
		if err := writeGlobOrSubpathRule(sb, "file-write*", pattern, logTag); err != nil {
			return err
		}
	}

	denyWithin := append(append([]string{}, rules.WriteDenyWithinAllow...), c.mandatoryDenyPaths(rules)...)
	for _, pattern := range denyWithin {
		if err := writeGlobOrSubpathRule(sb, "deny file-write*", pattern, logTag); err != nil {
			return err
		}
	}
	moveRules, err := generateMoveBlockingRules(denyWithin, logTag)
	if err != nil {
		return err
	}
	sb.WriteString(moveRules)
	return nil
}

func (c *SeatbeltCompiler) mandatoryDenyPaths(rules *PolicyRuleSet) []string {
	out := append([]string{}, rules.MandatoryDeny...)
	return out
}

func containsGlobChars(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// writeGlobOrSubpathRule emits an "(allow|deny <op> (regex ...))" rule for
// glob patterns, or "(allow|deny <op> (subpath ...))" for literal paths.
// verb is either "file-write*" (allow) or "deny file-read*"/"deny file-write*"
// (an explicit deny).
func writeGlobOrSubpathRule(sb *strings.Builder, verb, pattern, logTag string) error {
	action, op := "allow", verb
	if strings.HasPrefix(verb, "deny ") {
		action, op = "deny", strings.TrimPrefix(verb, "deny ")
	}

	if containsGlobChars(pattern) {
		re, err := compileGlob(pattern)
		if err != nil {
			return err
		}
		fmt.Fprintf(sb, "(%s %s\n  (regex %s)\n  (with message %s))\n",
			action, op, escapeSBPLPath(re.String()), escapeSBPLPath(logTag))
		return nil
	}

	fmt.Fprintf(sb, "(%s %s\n  (subpath %s)\n  (with message %s))\n",
		action, op, escapeSBPLPath(pattern), escapeSBPLPath(logTag))
	return nil
}

// generateMoveBlockingRules prevents bypassing a deny rule via mv/rename:
// every denied path (and, for globs, every ancestor of its static prefix)
// gets a "deny file-write-unlink" rule.
func generateMoveBlockingRules(patterns []string, logTag string) (string, error) {
	var sb strings.Builder
	for _, pattern := range patterns {
		if containsGlobChars(pattern) {
			re, err := compileGlob(pattern)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "(deny file-write-unlink\n  (regex %s)\n  (with message %s))\n",
				escapeSBPLPath(re.String()), escapeSBPLPath(logTag))

			prefix := staticPrefix(pattern)
			if prefix == "" || prefix == "/" {
				continue
			}
			fmt.Fprintf(&sb, "(deny file-write-unlink\n  (literal %s)\n  (with message %s))\n",
				escapeSBPLPath(prefix), escapeSBPLPath(logTag))
			for _, ancestor := range ancestorsOf(prefix) {
				fmt.Fprintf(&sb, "(deny file-write-unlink\n  (literal %s)\n  (with message %s))\n",
					escapeSBPLPath(ancestor), escapeSBPLPath(logTag))
			}
			continue
		}

		fmt.Fprintf(&sb, "(deny file-write-unlink\n  (subpath %s)\n  (with message %s))\n",
			escapeSBPLPath(pattern), escapeSBPLPath(logTag))
		for _, ancestor := range ancestorsOf(pattern) {
			fmt.Fprintf(&sb, "(deny file-write-unlink\n  (literal %s)\n  (with message %s))\n",
				escapeSBPLPath(ancestor), escapeSBPLPath(logTag))
		}
	}
	return sb.String(), nil
}

// tmpdirParents returns both the /var and /private/var spellings of
// TMPDIR's parent when TMPDIR matches macOS's per-process pattern, since
// /var is itself a symlink to /private/var.
func tmpdirParents() []string {
	tmpdir := os.Getenv("TMPDIR")
	if tmpdir == "" || !tmpdirPattern.MatchString(tmpdir) {
		return nil
	}

	parent := strings.TrimSuffix(strings.TrimSuffix(tmpdir, "/"), "/T")
	parent = strings.TrimSuffix(parent, "/T/")

	switch {
	case strings.HasPrefix(parent, "/private/var/"):
		return []string{parent, strings.TrimPrefix(parent, "/private")}
	case strings.HasPrefix(parent, "/var/"):
		return []string{parent, "/private" + parent}
	default:
		return []string{parent}
	}
}
