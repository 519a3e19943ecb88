//go:build windows

package filter

import "os/exec"

func configureProcess(*exec.Cmd) {}

// terminate has no graceful equivalent on Windows.
func terminate(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
