//go:build !darwin

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViolationMonitor_NoopOutsideDarwin(t *testing.T) {
	t.Parallel()
	m := NewViolationMonitor("tag", nil)
	stop, err := m.Start(t.Context(), func(Violation) {
		t.Fatal("callback should never be invoked")
	})
	require.NoError(t, err)
	stop()
	assert.NotNil(t, m)
}
