//go:build !darwin && !linux && !freebsd && !netbsd && !openbsd

package launch

import "os"

func exitCode(st *os.ProcessState) int { return st.ExitCode() }
