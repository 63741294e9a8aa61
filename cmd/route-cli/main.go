// Command route-cli runs one command behind a proxy node picked from a
// subscription, leaving the rest of the machine untouched.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/John-Robertt/route-cli/internal/app"
	"github.com/John-Robertt/route-cli/internal/config"
	"github.com/John-Robertt/route-cli/internal/model"
)

const usage = `usage: route-cli [-home DIR] [-v] <command> [args]

commands:
  login-sub --url URL   save the subscription URL
  update                download and cache the subscription
  list-nodes            list cached nodes
  use-node NAME         prefer NAME on the next run
  run -- CMD [ARGS...]  run CMD with a scoped proxy environment
  doctor                check configuration and environment
`

// shutdownSignals cancel the run context so the core is stopped before exit.
// SIGHUP arrives when the controlling terminal goes away.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("route-cli", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	home := global.String("home", "", "root directory (default $ROUTE_HOME or the user config dir)")
	verbose := global.Bool("v", false, "debug logging")
	if err := global.Parse(args); err != nil {
		return exitUsage(err)
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return 2
	}

	paths, err := config.Discover(*home)
	if err != nil {
		return report(stderr, err)
	}
	if err := paths.EnsureDirs(); err != nil {
		return report(stderr, err)
	}

	level := new(slog.LevelVar)
	if cfg, err := config.Load(paths.Config); err == nil {
		if l, err := config.ParseLevel(cfg.Log.Level); err == nil {
			level.Set(l)
		}
	}
	if *verbose {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	a := &app.App{
		Paths:  paths,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		Logger: logger,
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "login-sub":
		fs := subcommand(cmd, stderr)
		u := fs.String("url", "", "subscription URL")
		if err := fs.Parse(cmdArgs); err != nil {
			return exitUsage(err)
		}
		if *u == "" && fs.NArg() == 1 {
			*u = fs.Arg(0)
		}
		if *u == "" {
			fmt.Fprintln(stderr, "login-sub: --url is required")
			return 2
		}
		return report(stderr, a.LoginSub(ctx, *u))
	case "update":
		if err := noArgs(cmd, cmdArgs, stderr); err != nil {
			return exitUsage(err)
		}
		_, err := a.Update(ctx)
		return report(stderr, err)
	case "list-nodes":
		if err := noArgs(cmd, cmdArgs, stderr); err != nil {
			return exitUsage(err)
		}
		return report(stderr, a.ListNodes(ctx))
	case "use-node":
		fs := subcommand(cmd, stderr)
		if err := fs.Parse(cmdArgs); err != nil {
			return exitUsage(err)
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "use-node: exactly one node name is required")
			return 2
		}
		return report(stderr, a.UseNode(ctx, fs.Arg(0)))
	case "run":
		fs := subcommand(cmd, stderr)
		if err := fs.Parse(cmdArgs); err != nil {
			return exitUsage(err)
		}
		if fs.NArg() == 0 {
			fmt.Fprintln(stderr, "run: no command given (example: route-cli run -- claude)")
			return 2
		}
		code, err := a.Run(ctx, fs.Args())
		if err != nil {
			return report(stderr, err)
		}
		return code
	case "doctor":
		if err := noArgs(cmd, cmdArgs, stderr); err != nil {
			return exitUsage(err)
		}
		_, err := a.Doctor(ctx)
		return report(stderr, err)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func subcommand(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func noArgs(name string, args []string, stderr io.Writer) error {
	fs := subcommand(name, stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "%s: unexpected arguments %q\n", name, fs.Args())
		return errors.New("unexpected arguments")
	}
	return nil
}

func exitUsage(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 2
}

// report prints err as `error [stage] CODE: message` and returns the exit
// status for it.
func report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(w, "interrupted")
		return 130
	}
	ae, ok := model.AsAppError(err)
	if !ok {
		fmt.Fprintf(w, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(w, "error [%s] %s: %s\n", ae.Stage, ae.Code, ae.Message)
	if ae.URL != "" {
		fmt.Fprintf(w, "  url: %s\n", ae.URL)
	}
	if ae.Line > 0 {
		fmt.Fprintf(w, "  line %d: %s\n", ae.Line, ae.Snippet)
	}
	if cause := errors.Unwrap(err); cause != nil {
		fmt.Fprintf(w, "  cause: %v\n", cause)
	}
	if ae.Hint != "" {
		fmt.Fprintf(w, "  hint: %s\n", ae.Hint)
	}
	return 1
}
