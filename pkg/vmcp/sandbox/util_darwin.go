//go:build darwin

package sandbox

import "encoding/base64"

// encodeSandboxedCommand / decodeSandboxedCommand let a violation monitor
// correlate a "Sandbox: ... deny" unified-log line back to the shell
// command that triggered it, by round-tripping the command through a
// CMD64_<base64>_END_<session> marker the command itself logs on start.
func encodeSandboxedCommand(command string) string {
	return base64.StdEncoding.EncodeToString([]byte(command))
}

func decodeSandboxedCommand(encoded string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
