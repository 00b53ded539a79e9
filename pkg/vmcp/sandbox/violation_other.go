//go:build !darwin

package sandbox

import "context"

// Violation is a single denied operation surfaced from the platform's
// sandbox log, correlated back to the command that triggered it where
// possible.
type Violation struct {
	Detail  string
	Command string
}

// IgnoreRules maps a command substring to path substrings that should be
// suppressed for that command. The wildcard key "*" applies regardless of
// which command triggered the violation.
type IgnoreRules map[string][]string

// ViolationMonitor is a no-op outside macOS: bwrap denials surface as a
// killed process rather than a structured log stream, so there is nothing
// to correlate and report asynchronously.
type ViolationMonitor struct {
	SessionTag string
	Ignore     IgnoreRules
}

// NewViolationMonitor returns a monitor scoped to sessionTag.
func NewViolationMonitor(sessionTag string, ignore IgnoreRules) *ViolationMonitor {
	return &ViolationMonitor{SessionTag: sessionTag, Ignore: ignore}
}

// Start is a no-op; it returns an already-satisfied stop function.
func (m *ViolationMonitor) Start(_ context.Context, _ func(Violation)) (stop func(), err error) {
	return func() {}, nil
}
