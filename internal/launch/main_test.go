//go:build darwin || linux || freebsd || netbsd || openbsd

package launch

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// TestMain lets the test binary act as the launched target when
// ROUTE_FAKE_TARGET is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv("ROUTE_FAKE_TARGET"); mode != "" {
		os.Exit(fakeTarget(mode))
	}
	os.Exit(m.Run())
}

func fakeTarget(mode string) int {
	switch {
	case mode == "env":
		for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "KEEP_ME"} {
			v, ok := os.LookupEnv(k)
			fmt.Printf("%s=%s,%v\n", k, v, ok)
		}
		fmt.Printf("ARGS=%s\n", strings.Join(os.Args[1:], " "))
		return 0
	case strings.HasPrefix(mode, "exit:"):
		n, _ := strconv.Atoi(strings.TrimPrefix(mode, "exit:"))
		return n
	case mode == "self-kill":
		syscall.Kill(os.Getpid(), syscall.SIGKILL)
		time.Sleep(time.Second)
		return 0
	case mode == "wait-interrupt":
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		fmt.Println("ready")
		select {
		case <-ch:
			return 130
		case <-time.After(time.Minute):
			return 0
		}
	case mode == "ignore-interrupt":
		signal.Ignore(os.Interrupt)
		fmt.Println("ready")
		time.Sleep(time.Minute)
		return 0
	}
	return 99
}
