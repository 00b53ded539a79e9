//go:build darwin

package sandbox

func newPlatformCompiler() PolicyCompiler {
	c := NewSeatbeltCompiler()
	if c.Available() {
		return c
	}
	return NoopCompiler{}
}
