package launch

import (
	"strings"
	"testing"

	"github.com/John-Robertt/route-cli/internal/envutil"
)

func TestBuildEnv(t *testing.T) {
	parent := []string{
		"PATH=/usr/bin",
		"http_proxy=http://corp:3128",
		"HTTPS_PROXY=http://corp:3128",
		"all_proxy=socks5://corp:1080",
		"no_proxy=corp.internal",
		"HOME=/home/u",
	}
	orig := strings.Join(parent, "\n")

	env := BuildEnv(parent, ProxyEnv{ListenAddr: "127.0.0.1:27890", NoProxy: []string{"localhost", "127.0.0.1"}})

	if strings.Join(parent, "\n") != orig {
		t.Fatalf("parent env was modified")
	}
	want := map[string]string{
		"HTTP_PROXY":  "http://127.0.0.1:27890",
		"HTTPS_PROXY": "http://127.0.0.1:27890",
		"ALL_PROXY":   "http://127.0.0.1:27890",
		"NO_PROXY":    "localhost,127.0.0.1",
		"PATH":        "/usr/bin",
		"HOME":        "/home/u",
	}
	for k, v := range want {
		if got, ok := envutil.Get(env, k); !ok || got != v {
			t.Fatalf("%s=%q (set=%v), want=%q", k, got, ok, v)
		}
	}
	for _, k := range []string{"http_proxy", "all_proxy", "no_proxy"} {
		if _, ok := envutil.Get(env, k); ok {
			t.Fatalf("inherited %s survived", k)
		}
	}
	if len(env) != len(want) {
		t.Fatalf("env=%v, want exactly %d entries", env, len(want))
	}
}

func TestBuildEnv_EmptyNoProxy(t *testing.T) {
	env := BuildEnv(nil, ProxyEnv{ListenAddr: "127.0.0.1:1"})
	if v, ok := envutil.Get(env, "NO_PROXY"); !ok || v != "" {
		t.Fatalf("NO_PROXY=%q,%v, want empty,true", v, ok)
	}
}
