//go:build darwin

package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSandboxedCommand(t *testing.T) {
	t.Parallel()
	encoded := encodeSandboxedCommand("python3 run.py --flag")
	decoded, err := decodeSandboxedCommand(encoded)
	require.NoError(t, err)
	assert.Equal(t, "python3 run.py --flag", decoded)
}

func TestViolationMonitor_ProcessStream_FiltersNoise(t *testing.T) {
	t.Parallel()

	m := NewViolationMonitor("abc123_SBX", nil)
	input := strings.NewReader(
		"CMD64_" + encodeSandboxedCommand("cat /etc/passwd") + "_END_abc123_SBX\n" +
			"Sandbox: cat(1234) deny(1) mach-lookup com.apple.diagnosticd\n" +
			"CMD64_" + encodeSandboxedCommand("cat /etc/secret") + "_END_abc123_SBX\n" +
			"Sandbox: cat(1235) deny(1) file-read-data /etc/secret\n",
	)

	var got []Violation
	m.processStream(input, func(v Violation) { got = append(got, v) })

	require.Len(t, got, 1)
	assert.Contains(t, got[0].Detail, "/etc/secret")
	assert.Equal(t, "cat /etc/secret", got[0].Command)
}

func TestViolationMonitor_ShouldIgnore(t *testing.T) {
	t.Parallel()

	m := NewViolationMonitor("tag", IgnoreRules{
		"*":             {"always/ignored"},
		"npm install":   {"node_modules"},
	})

	assert.True(t, m.shouldIgnore("ls", "path always/ignored here"))
	assert.True(t, m.shouldIgnore("npm install", "write to node_modules/foo"))
	assert.False(t, m.shouldIgnore("npm install", "write to /etc/passwd"))
	assert.False(t, m.shouldIgnore("", "write to node_modules"))
}

func TestIsNoise(t *testing.T) {
	t.Parallel()
	assert.True(t, isNoise("mach-lookup com.apple.diagnosticd"))
	assert.True(t, isNoise("mDNSResponder something"))
	assert.False(t, isNoise("file-read-data /etc/secret"))
}
