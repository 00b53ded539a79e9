package sandbox

// NoopCompiler passes commands through unchanged. Used on platforms with
// no available policy compiler, or when a rule set imposes no restriction.
type NoopCompiler struct{}

func (NoopCompiler) Compile(spec CommandSpec, _ *PolicyRuleSet, _ string) (*ExecEnv, error) {
	return &ExecEnv{Command: append([]string{spec.Program}, spec.Args...), Cwd: spec.Cwd}, nil
}

func (NoopCompiler) Available() bool { return true }

// NewPolicyCompiler returns the best PolicyCompiler for the current
// platform, falling through to NoopCompiler when none is available —
// matching the spec's non-goal of sandboxing on unsupported platforms.
func NewPolicyCompiler() PolicyCompiler {
	return newPlatformCompiler()
}
