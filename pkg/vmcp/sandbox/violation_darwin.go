//go:build darwin

package sandbox

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strings"

	"github.com/stacklok/vmcp-gateway/pkg/logger"
)

var (
	sandboxLineRe = regexp.MustCompile(`Sandbox:\s+(.+)$`)
)

// Violation is a single denied operation surfaced from the unified log
// stream, correlated back to the command that triggered it where possible.
type Violation struct {
	Detail  string
	Command string
}

// IgnoreRules maps a command substring to path substrings that should be
// suppressed for that command. The wildcard key "*" applies regardless of
// which command triggered the violation.
type IgnoreRules map[string][]string

var noiseMarkers = []string{
	"mDNSResponder",
	"mach-lookup com.apple.diagnosticd",
	"mach-lookup com.apple.analyticsd",
}

// ViolationMonitor streams macOS's unified log for denials tagged with a
// specific session suffix and reports each one that survives noise
// filtering and the caller's ignore rules.
type ViolationMonitor struct {
	SessionTag string
	Ignore     IgnoreRules
}

// NewViolationMonitor returns a monitor scoped to sessionTag (the same tag
// passed to PolicyCompiler.Compile for this invocation).
func NewViolationMonitor(sessionTag string, ignore IgnoreRules) *ViolationMonitor {
	return &ViolationMonitor{SessionTag: sessionTag, Ignore: ignore}
}

// Start launches `log stream` filtered to this session's tag and invokes
// callback for every violation that is not noise and not ignored. The
// returned stop function terminates the log stream and waits for it to
// exit; it is safe to call more than once.
func (m *ViolationMonitor) Start(ctx context.Context, callback func(Violation)) (stop func(), err error) {
	predicate := `eventMessage ENDSWITH "` + m.SessionTag + `"`
	cmd := exec.CommandContext(ctx, "log", "stream", "--predicate", predicate, "--style", "compact")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.processStream(stdout, callback)
	}()

	stopOnce := func() {
		_ = cmd.Process.Kill()
		<-done
		_ = cmd.Wait()
	}
	return stopOnce, nil
}

func (m *ViolationMonitor) processStream(stdout io.Reader, callback func(Violation)) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pendingViolation, pendingCommandLine string

	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, "Sandbox:") && strings.Contains(line, "deny") {
			pendingViolation = line
		}
		if strings.HasPrefix(line, "CMD64_") {
			pendingCommandLine = line
		}

		if pendingViolation == "" {
			continue
		}

		match := sandboxLineRe.FindStringSubmatch(pendingViolation)
		if match == nil {
			continue
		}
		detail := match[1]

		if isNoise(detail) {
			pendingViolation, pendingCommandLine = "", ""
			continue
		}

		command := decodeCommandLine(pendingCommandLine)
		if m.shouldIgnore(command, detail) {
			pendingViolation, pendingCommandLine = "", ""
			continue
		}

		callback(Violation{Detail: detail, Command: command})
		pendingViolation, pendingCommandLine = "", ""
	}
	if err := scanner.Err(); err != nil {
		logger.Warnw("violation monitor log stream ended with error", "error", err)
	}
}

func isNoise(detail string) bool {
	for _, marker := range noiseMarkers {
		if strings.Contains(detail, marker) {
			return true
		}
	}
	return false
}

func (m *ViolationMonitor) shouldIgnore(command, detail string) bool {
	if command == "" || m.Ignore == nil {
		return false
	}
	for _, substr := range m.Ignore["*"] {
		if strings.Contains(detail, substr) {
			return true
		}
	}
	for pattern, paths := range m.Ignore {
		if pattern == "*" {
			continue
		}
		if strings.Contains(command, pattern) {
			for _, substr := range paths {
				if strings.Contains(detail, substr) {
					return true
				}
			}
		}
	}
	return false
}

var cmdExtractRe = regexp.MustCompile(`CMD64_(.+?)_END`)

func decodeCommandLine(line string) string {
	if line == "" {
		return ""
	}
	match := cmdExtractRe.FindStringSubmatch(line)
	if match == nil {
		return ""
	}
	decoded, err := decodeSandboxedCommand(match[1])
	if err != nil {
		return ""
	}
	return decoded
}
