//go:build !darwin && !linux && !freebsd && !netbsd && !openbsd

package core

import (
	"os"
	"os/exec"
)

func setupProcessGroup(cmd *exec.Cmd) {}

// Without process groups the core is stopped directly; there is no graceful
// signal to send first.
func terminateGroup(p *os.Process) error { return killGroup(p) }

func killGroup(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}
