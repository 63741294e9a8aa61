// Package core owns the lifecycle of the proxy-core process: locating the
// binary, starting it against a generated config, waiting until its listener
// accepts connections and stopping it again.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	DefaultStartTimeout = 8 * time.Second
	DefaultStopGrace    = 3 * time.Second

	pollInterval = 100 * time.Millisecond
	dialTimeout  = 200 * time.Millisecond
)

type State int

const (
	NotStarted State = iota
	Resolving
	Starting
	Ready
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Resolving:
		return "resolving"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Manager runs at most one core process. A Manager is single-use: once Start
// has been called it cannot be started again.
type Manager struct {
	Resolver     Resolver
	ListenAddr   string
	StartTimeout time.Duration
	StopGrace    time.Duration
	// Stdout and Stderr receive the core's output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	mu      sync.Mutex
	state   State
	path    string
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Path is the resolved core executable, empty before resolution succeeds.
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

// Addr returns the listen address once the core is Ready.
func (m *Manager) Addr() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ListenAddr, m.state == Ready
}

// Start resolves the core, launches it with configPath and returns once the
// listen address accepts connections. On any failure the process, if one was
// spawned, has already been stopped and the state is Failed.
func (m *Manager) Start(ctx context.Context, configPath string) error {
	m.mu.Lock()
	if m.state != NotStarted {
		st := m.state
		m.mu.Unlock()
		return newError("core_start", CodeBadState, fmt.Sprintf("core manager is %s", st), "", nil)
	}
	m.state = Resolving
	m.mu.Unlock()

	res, err := m.Resolver.Resolve()
	if err != nil {
		m.setState(Failed)
		return err
	}
	m.logger().Debug("proxy core resolved", "path", res.Path, "attempts", len(res.Attempts))

	if m.ListenAddr != "" && dialOnce(ctx, m.ListenAddr) {
		m.setState(Failed)
		return newError("core_start", CodePortInUse,
			fmt.Sprintf("listen address %s is already in use", m.ListenAddr),
			"stop the other listener or change proxy.mixed_port", nil)
	}

	cmd := exec.Command(res.Path, "run", "-c", configPath)
	cmd.Stdout = m.Stdout
	cmd.Stderr = m.Stderr
	// Bounds Wait when a grandchild keeps an output pipe open.
	cmd.WaitDelay = DefaultStopGrace
	setupProcessGroup(cmd)

	m.mu.Lock()
	m.path = res.Path
	m.state = Starting
	m.mu.Unlock()

	if err := cmd.Start(); err != nil {
		m.setState(Failed)
		return newError("core_start", CodeUnavailable,
			fmt.Sprintf("proxy core %s could not be executed", res.Path), "", err)
	}
	done := make(chan struct{})
	m.mu.Lock()
	m.cmd = cmd
	m.done = done
	m.mu.Unlock()
	go func() {
		err := cmd.Wait()
		m.mu.Lock()
		m.waitErr = err
		m.mu.Unlock()
		close(done)
	}()
	m.logger().Info("proxy core started", "pid", cmd.Process.Pid, "config", configPath)

	if err := m.waitReady(ctx, done); err != nil {
		m.halt()
		m.setState(Failed)
		return err
	}
	m.setState(Ready)
	m.logger().Info("proxy core ready", "addr", m.ListenAddr)
	return nil
}

func (m *Manager) waitReady(ctx context.Context, done <-chan struct{}) error {
	timeout := m.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		if m.ListenAddr == "" || dialOnce(ctx, m.ListenAddr) {
			return nil
		}
		select {
		case <-done:
			m.mu.Lock()
			werr := m.waitErr
			m.mu.Unlock()
			return newError("core_start", CodeExited,
				"proxy core exited before it was ready", "run the core by hand with the generated config to see its error", werr)
		case <-deadline.C:
			return newError("core_start", CodeStartTimeout,
				fmt.Sprintf("proxy core did not listen on %s within %s", m.ListenAddr, timeout), "", nil)
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Stop terminates the core: SIGTERM to its process group, then SIGKILL once
// StopGrace has passed. It is safe to call in any state and more than once.
func (m *Manager) Stop() error {
	m.mu.Lock()
	switch m.state {
	case Stopped:
		m.mu.Unlock()
		return nil
	case NotStarted:
		m.state = Stopped
		m.mu.Unlock()
		return nil
	}
	m.state = Stopping
	m.mu.Unlock()

	err := m.halt()
	m.setState(Stopped)
	if err != nil {
		m.logger().Warn("proxy core stop", "err", err)
	}
	return err
}

// halt is Stop without state bookkeeping; Start uses it to clean up.
func (m *Manager) halt() error {
	m.mu.Lock()
	cmd, done := m.cmd, m.done
	m.mu.Unlock()
	if cmd == nil || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	grace := m.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	if err := terminateGroup(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.logger().Debug("terminate proxy core", "err", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(grace):
	}

	m.logger().Warn("proxy core ignored SIGTERM, killing", "pid", cmd.Process.Pid)
	if err := killGroup(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill proxy core: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("proxy core pid %d did not exit after SIGKILL", cmd.Process.Pid)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func dialOnce(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
