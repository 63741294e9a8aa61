package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/John-Robertt/route-cli/internal/config"
	"github.com/John-Robertt/route-cli/internal/core"
	"github.com/John-Robertt/route-cli/internal/launch"
	"github.com/John-Robertt/route-cli/internal/render"
	"github.com/John-Robertt/route-cli/internal/rules"
	"github.com/John-Robertt/route-cli/internal/selector"
	"github.com/John-Robertt/route-cli/internal/store"
	"github.com/John-Robertt/route-cli/internal/sub"
)

// Run selects a node, starts the proxy core for it and runs argv with the
// scoped proxy environment. It returns the target's exit status. The core is
// stopped before Run returns, on every path.
func (a *App) Run(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 || argv[0] == "" {
		return 0, newError("app", CodeUsage, "no command given", "example: route-cli run -- claude", nil)
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return 0, err
	}

	res, err := a.loadCache(cfg)
	var ae *Error
	if errors.As(err, &ae) && ae.AppError.Code == CodeNoCache {
		a.logger().Info("no cached subscription, updating first")
		res, err = a.update(ctx, cfg)
	}
	if err != nil {
		return 0, err
	}

	// Validate the policy before probing so a bad entry fails fast.
	policy := cfg.Policy()
	if _, err := rules.Parse("no_proxy", policy.NoProxy, render.TagDirect); err != nil {
		return 0, err
	}

	sel, err := a.selectNode(ctx, cfg, res)
	if err != nil {
		return 0, err
	}
	a.logger().Info("node selected", "node", sel.Node.Name, "region", sel.Node.Region, "probes", sel.Probes)

	cfg.SetRuntimeState(sel.State)
	if err := config.Save(a.Paths.Config, cfg); err != nil {
		return 0, fmt.Errorf("save runtime state: %w", err)
	}

	doc, err := render.SingBox(sel.Node, policy)
	if err != nil {
		return 0, err
	}
	if err := config.WriteFileAtomic(a.Paths.SingBoxConfig, doc, 0o600); err != nil {
		return 0, fmt.Errorf("write %s: %w", a.Paths.SingBoxConfig, err)
	}

	mgr := &core.Manager{
		Resolver:     a.resolver(cfg),
		ListenAddr:   render.ListenAddress(policy),
		StartTimeout: cfg.ProxyCore.StartTimeout.Std(),
		StopGrace:    cfg.ProxyCore.StopGrace.Std(),
		Logger:       a.logger(),
	}
	if f, ferr := os.OpenFile(a.Paths.CoreLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); ferr == nil {
		defer f.Close()
		mgr.Stdout, mgr.Stderr = f, f
	} else {
		a.logger().Debug("core log unavailable", "path", a.Paths.CoreLog, "err", ferr)
	}
	defer func() {
		if serr := mgr.Stop(); serr != nil {
			a.logger().Warn("stopping proxy core failed", "err", serr)
		}
	}()

	if err := mgr.Start(ctx, a.Paths.SingBoxConfig); err != nil {
		return 0, err
	}
	addr, _ := mgr.Addr()

	l := &launch.Launcher{
		Stdin:   a.stdin(),
		Stdout:  a.stdout(),
		Stderr:  a.stderr(),
		Environ: a.Environ,
		Logger:  a.logger(),
	}
	penv := launch.ProxyEnv{ListenAddr: addr, NoProxy: rules.NoProxyEntries(policy.NoProxy)}
	return l.Launch(ctx, argv[0], argv[1:], penv)
}

func (a *App) selectNode(ctx context.Context, cfg config.Config, res *sub.Result) (selector.Selection, error) {
	prober := a.Prober
	if prober == nil {
		p, err := selector.NewProber(cfg.Probe.Mode, cfg.Probe.Target)
		if err != nil {
			return selector.Selection{}, err
		}
		prober = p
	}

	s := &selector.Selector{
		Prober:      prober,
		Timeout:     cfg.Probe.Timeout.Std(),
		Parallelism: cfg.Probe.Parallelism,
		Now:         a.Now,
		Logger:      a.logger(),
	}

	st := a.openStore(ctx)
	if st != nil {
		defer st.Close()
	}
	s.Observer = func(o selector.Outcome) {
		status := "OK"
		if !o.OK() {
			status = "FAIL"
		}
		a.logger().Info("probe", "status", status, "node", o.Node.Name, "addr", o.Node.Address(), "latency", o.Latency)
		if st == nil {
			return
		}
		p := store.Probe{
			Node:      o.Node.Name,
			Host:      o.Node.Host,
			Port:      o.Node.Port,
			Success:   o.OK(),
			Latency:   o.Latency,
			CheckedAt: o.CheckedAt,
		}
		if o.Err != nil {
			p.Error = o.Err.Error()
		}
		if err := st.RecordProbe(context.WithoutCancel(ctx), p); err != nil {
			a.logger().Debug("recording probe failed", "err", err)
		}
	}

	return s.Select(ctx, res.Nodes, cfg.RuntimeState())
}
