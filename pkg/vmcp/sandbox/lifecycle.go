package sandbox

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/logger"
)

var disallowedSanitizeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Sanitize normalizes a vmcp_id into a filesystem-safe directory name:
// path separators and ".." segments are replaced with "_", then any
// remaining character outside [A-Za-z0-9._-] is stripped. Idempotent.
func Sanitize(vmcpID string) string {
	replaced := strings.NewReplacer("/", "_", "\\", "_", "..", "_", "~", "_").Replace(vmcpID)
	return disallowedSanitizeChars.ReplaceAllString(replaced, "")
}

func vmcpHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".vmcp")
}

func sandboxDir(vmcpID string) string {
	return filepath.Join(vmcpHome(), Sanitize(vmcpID))
}

// vmcpConfigFile is the per-sandbox metadata file, carrying at minimum
// {vmcp_id} plus the enabled flag. It is authoritative for Status: the
// enabled flag is never inferred from filesystem presence.
type vmcpConfigFile struct {
	VMCPID         string `json:"vmcp_id"`
	SandboxEnabled bool   `json:"sandbox_enabled"`
}

// Status is the result of a Status query.
type Status struct {
	Enabled     bool
	Path        string
	VenvExists  bool
	FolderExists bool
}

// Lifecycle manages the on-disk per-vMCP sandbox directory: its isolated
// interpreter environment, config metadata, and default tool packages.
type Lifecycle struct {
	// VenvManager locates (or falls back from) a fast venv creation tool.
	// Overridable in tests.
	VenvManager string
	// DefaultPackages is installed into every freshly created venv.
	DefaultPackages []string
}

// NewLifecycle returns a Lifecycle using "uv" when available, falling
// back to the interpreter's builtin "venv" module.
func NewLifecycle(defaultPackages []string) *Lifecycle {
	venvManager := "python3"
	if _, err := exec.LookPath("uv"); err == nil {
		venvManager = "uv"
	}
	return &Lifecycle{VenvManager: venvManager, DefaultPackages: defaultPackages}
}

func (l *Lifecycle) configPath(vmcpID string) string {
	return filepath.Join(sandboxDir(vmcpID), ".vmcp-config.json")
}

func (l *Lifecycle) venvPath(vmcpID string) string {
	return filepath.Join(sandboxDir(vmcpID), ".venv")
}

// InterpreterPath returns the absolute path to vmcpID's sandboxed venv
// interpreter, for callers (the tool engine's PythonRunner) that need to
// exec into it directly rather than go through Lifecycle itself. It does
// not check that the venv actually exists; callers should Enable first.
func InterpreterPath(vmcpID string) string {
	return filepath.Join(sandboxDir(vmcpID), ".venv", "bin", "python3")
}

func (l *Lifecycle) readConfig(vmcpID string) (*vmcpConfigFile, error) {
	data, err := os.ReadFile(l.configPath(vmcpID))
	if os.IsNotExist(err) {
		return &vmcpConfigFile{VMCPID: vmcpID}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg vmcpConfigFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Lifecycle) writeConfig(vmcpID string, cfg *vmcpConfigFile) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.configPath(vmcpID), data, 0o600)
}

// Enable creates the sandbox directory and isolated interpreter
// environment if absent, installs DefaultPackages, and marks the sandbox
// enabled. Idempotent: if the directory, venv, and enabled flag already
// exist it returns success without recreating anything.
func (l *Lifecycle) Enable(vmcpID string) error {
	dir := sandboxDir(vmcpID)

	cfg, err := l.readConfig(vmcpID)
	if err != nil {
		return vmcperrors.NewSandboxFailureError("failed to read sandbox config", err)
	}

	venvExists := dirExists(l.venvPath(vmcpID))
	if cfg.SandboxEnabled && dirExists(dir) && venvExists {
		return nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return vmcperrors.NewSandboxFailureError("failed to create sandbox directory", err)
	}

	if !venvExists {
		if err := l.createVenv(dir); err != nil {
			return vmcperrors.NewSandboxFailureError("failed to create isolated interpreter environment", err)
		}
		if err := l.installDefaultPackages(dir); err != nil {
			return vmcperrors.NewSandboxFailureError("failed to install default packages", err)
		}
	}

	cfg.VMCPID = vmcpID
	cfg.SandboxEnabled = true
	if err := l.writeConfig(vmcpID, cfg); err != nil {
		return vmcperrors.NewSandboxFailureError("failed to write sandbox config", err)
	}

	logger.Infow("sandbox enabled", "vmcp_id", vmcpID, "path", dir)
	return nil
}

func (l *Lifecycle) createVenv(dir string) error {
	venv := filepath.Join(dir, ".venv")
	var cmd *exec.Cmd
	if l.VenvManager == "uv" {
		cmd = exec.Command("uv", "venv", venv)
	} else {
		cmd = exec.Command("python3", "-m", "venv", venv)
	}
	return cmd.Run()
}

func (l *Lifecycle) installDefaultPackages(dir string) error {
	if len(l.DefaultPackages) == 0 {
		return nil
	}
	pip := filepath.Join(dir, ".venv", "bin", "pip")
	args := append([]string{"install"}, l.DefaultPackages...)
	return exec.Command(pip, args...).Run()
}

// Disable marks the sandbox disabled without deleting its directory.
func (l *Lifecycle) Disable(vmcpID string) error {
	cfg, err := l.readConfig(vmcpID)
	if err != nil {
		return vmcperrors.NewSandboxFailureError("failed to read sandbox config", err)
	}
	cfg.SandboxEnabled = false
	if err := l.writeConfig(vmcpID, cfg); err != nil {
		return vmcperrors.NewSandboxFailureError("failed to write sandbox config", err)
	}
	return nil
}

// Delete removes the sandbox directory tree entirely and marks it
// disabled.
func (l *Lifecycle) Delete(vmcpID string) error {
	dir := sandboxDir(vmcpID)
	if err := removeAllWritable(dir); err != nil {
		return vmcperrors.NewSandboxFailureError("failed to delete sandbox directory", err)
	}
	return nil
}

// Status reports the sandbox's enabled flag (read from metadata only) and
// on-disk presence of its directory and venv.
func (l *Lifecycle) Status(vmcpID string) (*Status, error) {
	cfg, err := l.readConfig(vmcpID)
	if err != nil {
		return nil, vmcperrors.NewSandboxFailureError("failed to read sandbox config", err)
	}
	dir := sandboxDir(vmcpID)
	return &Status{
		Enabled:      cfg.SandboxEnabled,
		Path:         dir,
		VenvExists:   dirExists(l.venvPath(vmcpID)),
		FolderExists: dirExists(dir),
	}, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// removeAllWritable clears any read-only attributes before removing, so
// deletion succeeds even for files a Windows tool marked read-only.
func removeAllWritable(root string) error {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.Mode()&0o200 == 0 {
			_ = os.Chmod(path, info.Mode()|0o200)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.RemoveAll(root)
}
