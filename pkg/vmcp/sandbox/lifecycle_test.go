package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain id", "my-vmcp", "my-vmcp"},
		{"path separators", "team/my vmcp", "team_myvmcp"},
		{"parent traversal", "../../etc", "____etc"},
		{"home reference", "~root", "_root"},
		{"idempotent", Sanitize("a/b..c"), Sanitize(Sanitize("a/b..c"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_NoDisallowedCharsSurvive(t *testing.T) {
	t.Parallel()
	got := Sanitize("weird!!@@##id")
	for _, r := range got {
		assert.False(t, disallowedSanitizeChars.MatchString(string(r)))
	}
}

func withTempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLifecycle_EnableDisableDeleteStatus(t *testing.T) {
	withTempHome(t)
	vmcpID := "demo-vmcp"

	lc := &Lifecycle{VenvManager: "none"}

	st, err := lc.Status(vmcpID)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.False(t, st.FolderExists)

	// Simulate a successful enable without actually invoking python/uv: we
	// bypass createVenv by pre-creating the directory structure, since the
	// test environment may not have an interpreter on PATH.
	dir := sandboxDir(vmcpID)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".venv"), 0o700))
	require.NoError(t, lc.writeConfig(vmcpID, &vmcpConfigFile{VMCPID: vmcpID, SandboxEnabled: true}))

	st, err = lc.Status(vmcpID)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.True(t, st.FolderExists)
	assert.True(t, st.VenvExists)

	// Enable is idempotent once the directory, venv, and flag all exist.
	require.NoError(t, lc.Enable(vmcpID))

	require.NoError(t, lc.Disable(vmcpID))
	st, err = lc.Status(vmcpID)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.True(t, st.FolderExists, "disable must not delete the directory")

	require.NoError(t, lc.Delete(vmcpID))
	st, err = lc.Status(vmcpID)
	require.NoError(t, err)
	assert.False(t, st.FolderExists)
	assert.False(t, st.Enabled)
}

func TestLifecycle_DeleteNonexistentIsNotAnError(t *testing.T) {
	withTempHome(t)
	lc := &Lifecycle{}
	assert.NoError(t, lc.Delete("never-existed"))
}

func TestLifecycle_StatusNeverInfersEnabledFromFilesystem(t *testing.T) {
	withTempHome(t)
	vmcpID := "fs-only"
	lc := &Lifecycle{}

	dir := sandboxDir(vmcpID)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".venv"), 0o700))

	st, err := lc.Status(vmcpID)
	require.NoError(t, err)
	assert.True(t, st.FolderExists)
	assert.True(t, st.VenvExists)
	assert.False(t, st.Enabled, "enabled must come from metadata, not folder presence")
}

func TestSandboxDir_UsesSanitizedID(t *testing.T) {
	home := withTempHome(t)
	dir := sandboxDir("team/weird id")
	assert.Equal(t, filepath.Join(home, ".vmcp", Sanitize("team/weird id")), dir)
}

func TestDefaultMandatoryDenyProvider(t *testing.T) {
	withTempHome(t)
	p := DefaultMandatoryDenyProvider{}
	paths := p.MandatoryDenyPaths("demo-vmcp")
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], ".vmcp-config.json")
}
