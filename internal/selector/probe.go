package selector

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/John-Robertt/route-cli/internal/model"
	"golang.org/x/net/proxy"
)

const (
	ModeTCP     = "tcp"
	ModeConnect = "connect"

	DefaultProbeTarget = "cp.cloudflare.com:80"
)

// Prober reports whether a node is usable. Implementations must honor ctx
// cancellation and deadline.
type Prober interface {
	Probe(ctx context.Context, n model.Node) error
}

type ProberFunc func(ctx context.Context, n model.Node) error

func (f ProberFunc) Probe(ctx context.Context, n model.Node) error { return f(ctx, n) }

// TCPProber treats a node as reachable when its server accepts a TCP
// connection.
type TCPProber struct{}

func (TCPProber) Probe(ctx context.Context, n model.Node) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", n.Address())
	if err != nil {
		return err
	}
	return conn.Close()
}

// ConnectProber asks socks nodes to open a connection to Target, which proves
// the node forwards traffic and not just that its port is open. Other kinds
// are probed with Fallback.
type ConnectProber struct {
	Target   string
	Fallback Prober
}

func (p ConnectProber) Probe(ctx context.Context, n model.Node) error {
	s, ok := n.Protocol.(model.SOCKS)
	if !ok {
		fb := p.Fallback
		if fb == nil {
			fb = TCPProber{}
		}
		return fb.Probe(ctx, n)
	}

	var auth *proxy.Auth
	if s.Username != "" {
		auth = &proxy.Auth{User: s.Username, Password: s.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", n.Address(), auth, &net.Dialer{})
	if err != nil {
		return err
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("socks5 dialer for %s does not support contexts", n.Address())
	}
	target := p.Target
	if target == "" {
		target = DefaultProbeTarget
	}
	conn, err := cd.DialContext(ctx, "tcp", target)
	if err != nil {
		return err
	}
	return conn.Close()
}

// NewProber returns the prober for a configured probe mode.
func NewProber(mode, target string) (Prober, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeTCP:
		return TCPProber{}, nil
	case ModeConnect:
		return ConnectProber{Target: target}, nil
	default:
		return nil, fmt.Errorf("unknown probe mode %q (want %q or %q)", mode, ModeTCP, ModeConnect)
	}
}
