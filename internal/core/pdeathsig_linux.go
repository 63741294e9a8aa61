package core

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setParentDeathSignal has the kernel kill the core if route-cli dies without
// running Stop, for example from an unhandled SIGHUP or SIGKILL.
func setParentDeathSignal(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = unix.SIGKILL
}
