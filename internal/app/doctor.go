package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/John-Robertt/route-cli/internal/config"
	"github.com/John-Robertt/route-cli/internal/render"
	"github.com/John-Robertt/route-cli/internal/rules"
)

type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelErr
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "OK"
	case LevelWarn:
		return "WARN"
	default:
		return "ERR"
	}
}

// Check is one doctor finding.
type Check struct {
	Level   Level
	Name    string
	Message string
}

func (c Check) String() string {
	return fmt.Sprintf("[%s] %s: %s", c.Level, c.Name, c.Message)
}

// Doctor runs every diagnostic and prints one line per check. It never stops
// at the first failure and never starts the proxy core. The returned error
// reports how many checks failed.
func (a *App) Doctor(ctx context.Context) ([]Check, error) {
	var checks []Check
	add := func(level Level, name, format string, args ...any) {
		c := Check{Level: level, Name: name, Message: fmt.Sprintf(format, args...)}
		checks = append(checks, c)
		a.printf("%s\n", c)
	}

	add(LevelOK, "root", "%s", a.Paths.Root)
	cfg, err := a.loadConfig()
	if err != nil {
		add(LevelErr, "config", "%v", err)
		cfg = config.Default()
	} else {
		add(LevelOK, "config", "%s", a.Paths.Config)
	}

	if cfg.Subscription.URL == "" {
		add(LevelErr, "subscription", "no URL configured; run `route-cli login-sub --url <URL>`")
	} else {
		add(LevelOK, "subscription", "%s", cfg.Subscription.URL)
	}

	if res, err := a.loadCache(cfg); err != nil {
		add(LevelWarn, "cache", "%v", err)
	} else {
		supported := len(res.Supported())
		add(LevelOK, "cache", "%d nodes, %d supported, %d skipped entries", len(res.Nodes), supported, len(res.Warnings))
		if supported == 0 {
			add(LevelWarn, "nodes", "no supported nodes (supported kinds: socks5, socks, http, ss, vmess)")
		}
		if name := cfg.Runtime.SelectedNode; name != "" {
			n, ok := res.Find(name)
			switch {
			case !ok:
				add(LevelWarn, "selected node", "%q is no longer in the subscription", name)
			case !n.Support.OK():
				add(LevelWarn, "selected node", "%q is %s", name, n.Support)
			default:
				add(LevelOK, "selected node", "%s (%s, %s)", name, n.Kind, n.Region)
			}
		}
	}

	resolution, err := a.resolver(cfg).Resolve()
	for _, at := range resolution.Attempts {
		lvl := LevelOK
		if at.Err != nil {
			lvl = LevelWarn
		}
		add(lvl, "core candidate", "%s", at)
	}
	if err != nil {
		add(LevelErr, "proxy core", "%v", err)
	} else {
		add(LevelOK, "proxy core", "%s", resolution.Path)
	}

	if _, err := rules.Parse("proxy_domains", cfg.Routing.ProxyDomains, render.TagProxy); err != nil {
		add(LevelErr, "routing", "%v", err)
	} else if _, err := rules.Parse("no_proxy", cfg.Routing.NoProxy, render.TagDirect); err != nil {
		add(LevelErr, "routing", "%v", err)
	} else {
		add(LevelOK, "routing", "%d proxied entries, %d bypass entries", len(cfg.Routing.ProxyDomains), len(cfg.Routing.NoProxy))
	}

	addr := render.ListenAddress(cfg.Policy())
	if portBusy(ctx, addr) {
		add(LevelWarn, "mixed port", "%s is already accepting connections", addr)
	} else {
		add(LevelOK, "mixed port", "%s", addr)
	}

	if st := a.openStore(ctx); st == nil {
		add(LevelWarn, "probe history", "unavailable at %s", a.Paths.StateDB)
	} else {
		n, err := st.Count(ctx)
		st.Close()
		if err != nil {
			add(LevelWarn, "probe history", "%v", err)
		} else {
			add(LevelOK, "probe history", "%d probes recorded", n)
		}
	}

	failed := 0
	for _, c := range checks {
		if c.Level == LevelErr {
			failed++
		}
	}
	if failed > 0 {
		return checks, newError("doctor", CodeDoctor, fmt.Sprintf("%d check(s) failed", failed), "", nil)
	}
	return checks, nil
}

func portBusy(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: 300 * time.Millisecond}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	c.Close()
	return true
}
