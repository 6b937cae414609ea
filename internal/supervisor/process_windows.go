//go:build windows

package supervisor

import "os/exec"

// configureProcessGroup is a no-op on Windows; the engine falls back to
// killing the direct child only, since job objects are out of scope for
// this port (the original tool never ran there either).
func configureProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
