package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscover_Override(t *testing.T) {
	t.Setenv(HomeEnv, "/from/env")

	p, err := Discover("/explicit")
	if err != nil {
		t.Fatal(err)
	}
	if p.Root != "/explicit" {
		t.Fatalf("root=%q, want=/explicit", p.Root)
	}

	p, err = Discover("")
	if err != nil {
		t.Fatal(err)
	}
	if p.Root != "/from/env" {
		t.Fatalf("root=%q, want=/from/env", p.Root)
	}
	if p.SingBoxConfig != filepath.Join("/from/env", "generated", "sing-box.json") {
		t.Fatalf("sing-box config=%q", p.SingBoxConfig)
	}
}

const legacyTOML = `[subscription]
url = "https://sub.example/x"

[proxy_core]
path = "sing-box.exe"

[proxy]
mixed_port = 1080

[routing]
proxy_domains = ["openai.com"]
no_proxy = ["localhost", "10.0.0.0/8"]

[runtime]
selected_node = "sg-1"
`

func TestMigrateLegacy(t *testing.T) {
	base := t.TempDir()
	legacy := filepath.Join(base, "codex-route")
	root := filepath.Join(base, "route")
	mustWrite(t, filepath.Join(legacy, "config.toml"), legacyTOML)
	mustWrite(t, filepath.Join(legacy, "cache", "subscription.yaml"), "proxies: []\n")

	if err := MigrateLegacy(legacy, root); err != nil {
		t.Fatalf("MigrateLegacy: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "cache", "subscription.yaml"))
	if err != nil {
		t.Fatalf("cache not copied: %v", err)
	}
	if string(got) != "proxies: []\n" {
		t.Fatalf("cache=%q", got)
	}
	if _, err := os.Stat(filepath.Join(legacy, "config.toml")); err != nil {
		t.Fatalf("legacy root should be left in place: %v", err)
	}

	p := PathsAt(root)
	cfg, err := Load(p.Config)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Subscription.URL != "https://sub.example/x" {
		t.Fatalf("url=%q, want=%q", cfg.Subscription.URL, "https://sub.example/x")
	}
	if cfg.Runtime.SelectedNode != "sg-1" {
		t.Fatalf("selected=%q, want=%q", cfg.Runtime.SelectedNode, "sg-1")
	}
	if cfg.Proxy.MixedPort != 1080 {
		t.Fatalf("mixed_port=%d, want=1080", cfg.Proxy.MixedPort)
	}
	if cfg.ProxyCore.Path != "sing-box" {
		t.Fatalf("core path=%q, want=%q", cfg.ProxyCore.Path, "sing-box")
	}
	if len(cfg.Routing.NoProxy) != 2 || cfg.Routing.NoProxy[1] != "10.0.0.0/8" {
		t.Fatalf("no_proxy=%q", cfg.Routing.NoProxy)
	}
	if cfg.Probe.Parallelism != 4 {
		t.Fatalf("parallelism=%d, want default 4", cfg.Probe.Parallelism)
	}

	// The import is written back as config.yaml and wins from then on.
	if _, err := os.Stat(p.Config); err != nil {
		t.Fatalf("config.yaml not written: %v", err)
	}
	mustWrite(t, filepath.Join(root, "config.toml"), "[runtime]\nselected_node = \"other\"\n")
	cfg, err = Load(p.Config)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Runtime.SelectedNode != "sg-1" {
		t.Fatalf("selected=%q after reload, want=%q", cfg.Runtime.SelectedNode, "sg-1")
	}

	// An existing root is never overwritten.
	mustWrite(t, filepath.Join(legacy, "config.toml"), "changed\n")
	if err := MigrateLegacy(legacy, root); err != nil {
		t.Fatal(err)
	}
	got, _ = os.ReadFile(filepath.Join(legacy, "config.toml"))
	if string(got) != "changed\n" {
		t.Fatalf("legacy config=%q", got)
	}
	if got, _ := os.ReadFile(filepath.Join(root, "config.toml")); string(got) == "changed\n" {
		t.Fatalf("root config.toml overwritten")
	}
}

func TestLoad_LegacyInvalid(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "config.toml"), "[proxy\n")
	_, err := Load(filepath.Join(dir, "config.yaml"))
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.AppError.Code != "CONFIG_INVALID" {
		t.Fatalf("err=%v, want CONFIG_INVALID", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); !os.IsNotExist(err) {
		t.Fatalf("config.yaml written for a broken import: %v", err)
	}
}

func TestMigrateLegacy_NoLegacy(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "route")
	if err := MigrateLegacy(filepath.Join(base, "codex-route"), root); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("root created without a legacy dir: %v", err)
	}
}

func TestCache(t *testing.T) {
	p := PathsAt(t.TempDir())
	_, ok, err := ReadCache(p)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v, want no cache", ok, err)
	}
	if err := WriteCache(p, []byte("proxies:\n")); err != nil {
		t.Fatal(err)
	}
	raw, ok, err := ReadCache(p)
	if err != nil || !ok || string(raw) != "proxies:\n" {
		t.Fatalf("raw=%q ok=%v err=%v", raw, ok, err)
	}
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}
