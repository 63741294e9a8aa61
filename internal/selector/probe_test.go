package selector

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/John-Robertt/route-cli/internal/model"
)

// serveSOCKS5 accepts one no-auth CONNECT and reports the requested port.
func serveSOCKS5(t *testing.T, ln net.Listener, gotPort chan<- int) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return
	}
	conn.Write([]byte{0x05, 0x00})

	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return
	}
	var addrLen int
	switch req[3] {
	case 0x01:
		addrLen = 4
	case 0x04:
		addrLen = 16
	case 0x03:
		l := make([]byte, 1)
		io.ReadFull(conn, l)
		addrLen = int(l[0])
	}
	rest := make([]byte, addrLen+2)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return
	}
	gotPort <- int(rest[addrLen])<<8 | int(rest[addrLen+1])
	conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 127, 0, 0, 1, 0, 0})
}

func listenerNode(t *testing.T, ln net.Listener, kind model.Kind, p model.Protocol) model.Node {
	t.Helper()
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return model.Node{Name: "local", Kind: kind, Host: host, Port: port, Protocol: p, Support: model.Supported()}
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	n := listenerNode(t, ln, model.KindHTTP, model.HTTP{})
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := (TCPProber{}).Probe(ctx, n); err == nil {
		t.Fatalf("expected error probing a closed port")
	}

	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln2.Close()
	if err := (TCPProber{}).Probe(ctx, listenerNode(t, ln2, model.KindHTTP, model.HTTP{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConnectProber_SOCKS(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	gotPort := make(chan int, 1)
	go serveSOCKS5(t, ln, gotPort)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p := ConnectProber{Target: "192.0.2.1:8443"}
	if err := p.Probe(ctx, listenerNode(t, ln, model.KindSOCKS5, model.SOCKS{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port := <-gotPort; port != 8443 {
		t.Fatalf("port=%d, want=8443", port)
	}
}

func TestConnectProber_FallsBackForOtherKinds(t *testing.T) {
	var called bool
	p := ConnectProber{Fallback: ProberFunc(func(ctx context.Context, n model.Node) error {
		called = true
		return nil
	})}
	n := model.Node{Name: "ss", Kind: model.KindSS, Host: "127.0.0.1", Port: 1, Protocol: model.Shadowsocks{}}
	if err := p.Probe(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("fallback prober was not used")
	}
}
