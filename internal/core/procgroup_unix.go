//go:build darwin || linux || freebsd || netbsd || openbsd

package core

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcessGroup starts cmd in its own session so that a terminal
// interrupt aimed at the foreground target does not also reach the core, and
// so the whole group can be signalled at once.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setpgid = false
	cmd.SysProcAttr.Pgid = 0
	setParentDeathSignal(cmd.SysProcAttr)
}

func terminateGroup(p *os.Process) error { return signalGroup(p, unix.SIGTERM) }

func killGroup(p *os.Process) error { return signalGroup(p, unix.SIGKILL) }

func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil {
		return os.ErrProcessDone
	}
	// kill(0) and kill(-1) would hit our own group or every process we own.
	if p.Pid <= 1 {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-p.Pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
