// Package app wires the pipeline stages into the route-cli commands.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/John-Robertt/route-cli/internal/config"
	"github.com/John-Robertt/route-cli/internal/core"
	"github.com/John-Robertt/route-cli/internal/fetch"
	"github.com/John-Robertt/route-cli/internal/model"
	"github.com/John-Robertt/route-cli/internal/selector"
	"github.com/John-Robertt/route-cli/internal/store"
	"github.com/John-Robertt/route-cli/internal/sub"
)

// App runs commands against one root directory. Zero-value hooks use the real
// implementations.
type App struct {
	Paths config.Paths

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	Now     func() time.Time
	Environ func() []string
	// Fetch downloads the subscription document.
	Fetch func(ctx context.Context, url string) ([]byte, error)
	// Prober replaces the prober built from probe.mode.
	Prober selector.Prober
	// CoreWorkDir and CoreExeDir override where the bundled core is looked up.
	CoreWorkDir string
	CoreExeDir  string
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
	switch e.AppError.Code {
	case CodeNoSubscriptionURL, CodeNoCache, CodeBadURL:
		return target == model.ErrSubscription
	case CodeNodeUnsupported:
		return target == model.ErrUnsupportedNode
	}
	return false
}

func (e *Error) App() model.AppError { return e.AppError }

const (
	CodeNoSubscriptionURL = "SUB_URL_MISSING"
	CodeBadURL            = "SUB_URL_INVALID"
	CodeNoCache           = "SUB_CACHE_MISSING"
	CodeNodeNotFound      = "NODE_NOT_FOUND"
	CodeNodeUnsupported   = "NODE_UNSUPPORTED"
	CodeUsage             = "USAGE"
	CodeDoctor            = "DOCTOR_FAILED"
)

func newError(stage, code, message, hint string, cause error) error {
	return &Error{
		AppError: model.AppError{Code: code, Message: message, Stage: stage, Hint: hint},
		Cause:    cause,
	}
}

func (a *App) loadConfig() (config.Config, error) {
	return config.Load(a.Paths.Config)
}

// loadCache parses the cached subscription.
func (a *App) loadCache(cfg config.Config) (*sub.Result, error) {
	raw, ok, err := config.ReadCache(a.Paths)
	if err != nil {
		return nil, fmt.Errorf("read subscription cache: %w", err)
	}
	if !ok {
		return nil, newError("app", CodeNoCache,
			fmt.Sprintf("no cached subscription at %s", a.Paths.SubscriptionCache),
			"run `route-cli update` first", nil)
	}
	return sub.ParseDocument(cfg.Subscription.URL, raw)
}

// openStore opens the probe history. History is optional, so failures are
// logged and a nil store is returned.
func (a *App) openStore(ctx context.Context) *store.Store {
	st, err := store.Open(a.Paths.StateDB)
	if err != nil {
		a.logger().Warn("probe history unavailable", "path", a.Paths.StateDB, "err", err)
		return nil
	}
	if err := st.Cleanup(ctx); err != nil {
		a.logger().Debug("probe history cleanup failed", "err", err)
	}
	return st
}

func (a *App) resolver(cfg config.Config) core.Resolver {
	return core.Resolver{
		Configured: cfg.ProxyCore.Path,
		WorkDir:    a.CoreWorkDir,
		ExeDir:     a.CoreExeDir,
	}
}

func (a *App) fetch(ctx context.Context, url string) ([]byte, error) {
	if a.Fetch != nil {
		return a.Fetch(ctx, url)
	}
	return fetch.Subscription(ctx, url)
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) stdout() io.Writer {
	if a.Stdout != nil {
		return a.Stdout
	}
	return os.Stdout
}

func (a *App) stderr() io.Writer {
	if a.Stderr != nil {
		return a.Stderr
	}
	return os.Stderr
}

func (a *App) stdin() io.Reader {
	if a.Stdin != nil {
		return a.Stdin
	}
	return os.Stdin
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout(), format, args...)
}
