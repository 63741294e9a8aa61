//go:build darwin || freebsd || netbsd || openbsd

package core

import "syscall"

// No parent-death signal outside Linux; route-cli relies on its signal
// handling to stop the core.
func setParentDeathSignal(attr *syscall.SysProcAttr) {}
