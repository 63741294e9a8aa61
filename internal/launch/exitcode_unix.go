//go:build darwin || linux || freebsd || netbsd || openbsd

package launch

import (
	"os"
	"syscall"
)

func exitCode(st *os.ProcessState) int {
	// ProcessState.Sys is always a syscall.WaitStatus here.
	if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return st.ExitCode()
}
