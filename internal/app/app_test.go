package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/route-cli/internal/config"
	"github.com/John-Robertt/route-cli/internal/model"
)

const testSub = `proxies:
  - {name: "US 01", type: socks5, server: 127.0.0.1, port: 1080}
  - {name: "SG 01", type: ss, server: sg.example.com, port: 8388, cipher: aes-128-gcm, password: pw}
  - {name: "KR plugin", type: ss, server: kr.example.com, port: 8388, cipher: aes-128-gcm, password: pw, plugin: obfs}
  - {name: broken, type: socks5, port: 1}
`

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a := &App{
		Paths:  config.PathsAt(t.TempDir()),
		Stdin:  strings.NewReader(""),
		Stdout: &out,
		Stderr: io.Discard,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) },
	}
	return a, &out
}

func writeConfig(t *testing.T, a *App, mutate func(*config.Config)) {
	t.Helper()
	cfg := config.Default()
	cfg.Subscription.URL = "https://sub.example.com/clash"
	if mutate != nil {
		mutate(&cfg)
	}
	if err := config.Save(a.Paths.Config, cfg); err != nil {
		t.Fatal(err)
	}
}

func requireAppCode(t *testing.T, err error, code string) {
	t.Helper()
	app, ok := model.AsAppError(err)
	if !ok {
		t.Fatalf("err=%T %v, want an AppError carrier", err, err)
	}
	if app.Code != code {
		t.Fatalf("code=%q, want=%q (err=%v)", app.Code, code, err)
	}
}

func TestLoginSub(t *testing.T) {
	a, out := newTestApp(t)

	err := a.LoginSub(context.Background(), "ftp://example.com/sub")
	requireAppCode(t, err, CodeBadURL)
	if !errors.Is(err, model.ErrSubscription) {
		t.Fatalf("errors.Is(err, ErrSubscription)=false")
	}

	if err := a.LoginSub(context.Background(), " https://example.com/sub "); err != nil {
		t.Fatalf("LoginSub: %v", err)
	}
	cfg, err := config.Load(a.Paths.Config)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Subscription.URL != "https://example.com/sub" {
		t.Fatalf("url=%q", cfg.Subscription.URL)
	}
	if !strings.Contains(out.String(), "Subscription URL saved") {
		t.Fatalf("out=%q", out.String())
	}
}

func TestUpdate(t *testing.T) {
	body := testSub
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer ts.Close()

	a, out := newTestApp(t)
	writeConfig(t, a, func(c *config.Config) { c.Subscription.URL = ts.URL })

	res, err := a.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(res.Nodes) != 3 || len(res.Warnings) != 1 {
		t.Fatalf("nodes=%d warnings=%d, want=3,1", len(res.Nodes), len(res.Warnings))
	}
	if !strings.Contains(out.String(), "3 nodes (2 supported)") {
		t.Fatalf("out=%q", out.String())
	}
	if !strings.Contains(out.String(), "skipped entry 4 (broken)") {
		t.Fatalf("warning not printed: %q", out.String())
	}
	cached, err := os.ReadFile(a.Paths.SubscriptionCache)
	if err != nil || string(cached) != testSub {
		t.Fatalf("cache=%q err=%v", cached, err)
	}

	// A document that does not parse leaves the previous cache in place.
	body = "hello: world\n"
	_, err = a.Update(context.Background())
	requireAppCode(t, err, "SUB_NO_PROXIES")
	cached, _ = os.ReadFile(a.Paths.SubscriptionCache)
	if string(cached) != testSub {
		t.Fatalf("cache overwritten: %q", cached)
	}
}

func TestUpdate_NoURL(t *testing.T) {
	a, _ := newTestApp(t)
	writeConfig(t, a, func(c *config.Config) { c.Subscription.URL = "" })

	_, err := a.Update(context.Background())
	requireAppCode(t, err, CodeNoSubscriptionURL)
	if !errors.Is(err, model.ErrSubscription) {
		t.Fatalf("errors.Is(err, ErrSubscription)=false")
	}
}

func TestUseNode(t *testing.T) {
	a, out := newTestApp(t)
	writeConfig(t, a, nil)

	err := a.UseNode(context.Background(), "US 01")
	requireAppCode(t, err, CodeNoCache)

	if err := config.WriteCache(a.Paths, []byte(testSub)); err != nil {
		t.Fatal(err)
	}
	requireAppCode(t, a.UseNode(context.Background(), "nope"), CodeNodeNotFound)

	err = a.UseNode(context.Background(), "KR plugin")
	requireAppCode(t, err, CodeNodeUnsupported)
	if !errors.Is(err, model.ErrUnsupportedNode) {
		t.Fatalf("errors.Is(err, ErrUnsupportedNode)=false")
	}

	if err := a.UseNode(context.Background(), "SG 01"); err != nil {
		t.Fatalf("UseNode: %v", err)
	}
	cfg, _ := config.Load(a.Paths.Config)
	if cfg.Runtime.SelectedNode != "SG 01" {
		t.Fatalf("selected_node=%q, want=%q", cfg.Runtime.SelectedNode, "SG 01")
	}
	if !strings.Contains(out.String(), "Selected node: SG 01") {
		t.Fatalf("out=%q", out.String())
	}
}

func TestListNodes(t *testing.T) {
	a, out := newTestApp(t)
	writeConfig(t, a, func(c *config.Config) { c.Runtime.SelectedNode = "SG 01" })
	if err := config.WriteCache(a.Paths, []byte(testSub)); err != nil {
		t.Fatal(err)
	}

	if err := a.ListNodes(context.Background()); err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	want := []string{
		"001 | US 01 | socks5 | UnitedStates | supported | -",
		"002 | SG 01 * | ss | Singapore | supported | -",
		"003 | KR plugin | ss | Korea | unsupported (ss plugin obfs) | -",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines=%q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d=%q, want=%q", i, lines[i], want[i])
		}
	}
}

func TestDoctor_ReportsEveryCheck(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	a, out := newTestApp(t)
	a.CoreWorkDir, a.CoreExeDir = t.TempDir(), t.TempDir()
	writeConfig(t, a, func(c *config.Config) {
		c.Subscription.URL = ""
		c.ProxyCore.Path = filepath.Join(t.TempDir(), "missing-core")
		c.Proxy.MixedPort = freePort(t)
	})

	checks, err := a.Doctor(context.Background())
	requireAppCode(t, err, CodeDoctor)

	text := out.String()
	for _, want := range []string{
		"[ERR] subscription:",
		"[WARN] cache:",
		"[ERR] proxy core:",
		"[OK] routing:",
		"[OK] mixed port:",
		"[OK] probe history: 0 probes recorded",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if len(checks) < 8 {
		t.Fatalf("checks=%d, want every check reported", len(checks))
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
