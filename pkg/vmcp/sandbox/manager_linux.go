//go:build linux

package sandbox

func newPlatformCompiler() PolicyCompiler {
	c := NewBwrapCompiler()
	if c.Available() {
		return c
	}
	return NoopCompiler{}
}
