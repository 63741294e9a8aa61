// Package launch runs the target command with a proxy environment scoped to
// that command's process tree.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/John-Robertt/route-cli/internal/envutil"
	"github.com/John-Robertt/route-cli/internal/model"
)

const DefaultGrace = 5 * time.Second

// proxyVars are removed from the inherited environment, in any letter case,
// before the scoped values are added.
var proxyVars = []string{
	"HTTP_PROXY",
	"HTTPS_PROXY",
	"ALL_PROXY",
	"NO_PROXY",
	"FTP_PROXY",
	"GRPC_PROXY",
	"SOCKS_PROXY",
	"SOCKS5_PROXY",
}

type Error struct {
	AppError model.AppError
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	return target == model.ErrTargetNotFound && e.AppError.Code == "TARGET_NOT_FOUND"
}

func (e *Error) App() model.AppError { return e.AppError }

// ProxyEnv is what the target is told about the proxy.
type ProxyEnv struct {
	// ListenAddr is host:port of the core's mixed inbound.
	ListenAddr string
	NoProxy    []string
}

// URL is the proxy URL exported to the target.
func (p ProxyEnv) URL() string { return "http://" + p.ListenAddr }

// BuildEnv returns parent with inherited proxy variables dropped and
// HTTP_PROXY, HTTPS_PROXY, ALL_PROXY and NO_PROXY set for p. parent is not
// modified.
func BuildEnv(parent []string, p ProxyEnv) []string {
	env := envutil.RemoveFold(parent, proxyVars...)
	u := p.URL()
	return envutil.Merge(env, []string{
		"HTTP_PROXY=" + u,
		"HTTPS_PROXY=" + u,
		"ALL_PROXY=" + u,
		"NO_PROXY=" + strings.Join(p.NoProxy, ","),
	})
}

type Launcher struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Grace is how long a canceled target gets to exit after the interrupt
	// before it is killed.
	Grace time.Duration
	// Environ supplies the parent environment; nil means os.Environ.
	Environ func() []string
	Logger  *slog.Logger
}

// Launch runs command with args, blocks until it exits and returns its exit
// status. A target killed by a signal reports 128+signal. When ctx is
// canceled the target is interrupted, then killed after Grace.
func (l *Launcher) Launch(ctx context.Context, command string, args []string, penv ProxyEnv) (int, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return 0, &Error{
			AppError: model.AppError{
				Code:    "TARGET_NOT_FOUND",
				Message: fmt.Sprintf("command %q not found", command),
				Stage:   "launch",
				Snippet: command,
				Hint:    "check the command name and PATH",
			},
			Cause: err,
		}
	}

	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	grace := l.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = BuildEnv(environ(), penv)
	cmd.Stdin = l.stdin()
	cmd.Stdout = l.stdout()
	cmd.Stderr = l.stderr()
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = grace

	l.logger().Debug("launching target", "path", path, "args", args, "proxy", penv.URL())
	if err := cmd.Start(); err != nil {
		return 0, &Error{
			AppError: model.AppError{
				Code:    "TARGET_START_FAILED",
				Message: fmt.Sprintf("command %q could not be started", command),
				Stage:   "launch",
				Snippet: path,
			},
			Cause: err,
		}
	}

	werr := cmd.Wait()
	if st := cmd.ProcessState; st != nil {
		code := exitCode(st)
		l.logger().Debug("target exited", "code", code)
		return code, nil
	}
	return 1, fmt.Errorf("wait for %s: %w", command, werr)
}

func (l *Launcher) stdin() io.Reader {
	if l.Stdin != nil {
		return l.Stdin
	}
	return os.Stdin
}

func (l *Launcher) stdout() io.Writer {
	if l.Stdout != nil {
		return l.Stdout
	}
	return os.Stdout
}

func (l *Launcher) stderr() io.Writer {
	if l.Stderr != nil {
		return l.Stderr
	}
	return os.Stderr
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func interrupt(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	if err := p.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return err
		}
		// Windows cannot deliver os.Interrupt to another process.
		return p.Kill()
	}
	return nil
}
