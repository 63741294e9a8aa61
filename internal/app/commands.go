package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/John-Robertt/route-cli/internal/config"
	"github.com/John-Robertt/route-cli/internal/model"
	"github.com/John-Robertt/route-cli/internal/store"
	"github.com/John-Robertt/route-cli/internal/sub"
)

// LoginSub stores the subscription URL.
func (a *App) LoginSub(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return newError("app", CodeBadURL, fmt.Sprintf("invalid subscription URL %q", rawURL),
			"expected an http or https URL", err)
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	cfg.Subscription.URL = rawURL
	if err := config.Save(a.Paths.Config, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	a.printf("Subscription URL saved to %s\n", a.Paths.Config)
	return nil
}

// Update downloads the subscription and replaces the cache. The cache is only
// written once the document parses.
func (a *App) Update(ctx context.Context) (*sub.Result, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return a.update(ctx, cfg)
}

func (a *App) update(ctx context.Context, cfg config.Config) (*sub.Result, error) {
	if cfg.Subscription.URL == "" {
		return nil, newError("app", CodeNoSubscriptionURL, "no subscription URL configured",
			"run `route-cli login-sub --url <URL>`", nil)
	}
	raw, err := a.fetch(ctx, cfg.Subscription.URL)
	if err != nil {
		return nil, err
	}
	res, err := sub.ParseDocument(cfg.Subscription.URL, raw)
	if err != nil {
		return nil, err
	}
	if err := config.WriteCache(a.Paths, raw); err != nil {
		return nil, fmt.Errorf("write subscription cache: %w", err)
	}

	supported := len(res.Supported())
	a.printf("Subscription updated: %d nodes (%d supported) cached at %s\n",
		len(res.Nodes), supported, a.Paths.SubscriptionCache)
	for _, w := range res.Warnings {
		a.printf("  skipped %s\n", w)
	}
	for _, w := range res.Notices {
		a.printf("  note: %s\n", w)
	}
	a.logger().Debug("subscription parsed", "format", res.Format, "nodes", len(res.Nodes), "warnings", len(res.Warnings))
	return res, nil
}

// ListNodes prints the cached nodes in subscription order.
func (a *App) ListNodes(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	res, err := a.loadCache(cfg)
	if err != nil {
		return err
	}

	var latest map[string]store.Probe
	if st := a.openStore(ctx); st != nil {
		defer st.Close()
		latest, err = st.LatestByNode(ctx)
		if err != nil {
			a.logger().Warn("reading probe history failed", "err", err)
		}
	}

	selected := cfg.Runtime.SelectedNode
	for i, n := range res.Nodes {
		mark := ""
		if n.Name == selected {
			mark = " *"
		}
		a.printf("%03d | %s%s | %s | %s | %s | %s\n",
			i+1, n.Name, mark, n.Kind, n.Region, n.Support, lastProbe(latest, n.Name))
	}
	return nil
}

func lastProbe(latest map[string]store.Probe, name string) string {
	p, ok := latest[name]
	if !ok {
		return "-"
	}
	at := p.CheckedAt.Local().Format("2006-01-02 15:04")
	if p.Success {
		return fmt.Sprintf("ok %dms @ %s", p.Latency.Milliseconds(), at)
	}
	return fmt.Sprintf("fail (%s) @ %s", p.Error, at)
}

// UseNode pins name as the preferred node without probing it.
func (a *App) UseNode(ctx context.Context, name string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	res, err := a.loadCache(cfg)
	if err != nil {
		return err
	}
	n, ok := res.Find(name)
	if !ok {
		return newError("app", CodeNodeNotFound,
			fmt.Sprintf("node %q not found in cached subscription", name),
			"run `route-cli list-nodes` to see node names", nil)
	}
	if !n.Support.OK() {
		return newError("app", CodeNodeUnsupported,
			fmt.Sprintf("node %q (%s) is not supported: %s", n.Name, n.Kind, n.Support.Reason),
			"supported kinds: socks5, socks, http, ss, vmess", nil)
	}
	cfg.SetRuntimeState(model.RuntimeState{SelectedNode: n.Name, LastSelectedAt: a.now()})
	if err := config.Save(a.Paths.Config, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	a.printf("Selected node: %s\n", n.Name)
	return nil
}
