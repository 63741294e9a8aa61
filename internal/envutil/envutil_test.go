package envutil

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	env := []string{"A=1", "B=", "A=2", "NOEQ"}
	if v, ok := Get(env, "A"); !ok || v != "2" {
		t.Fatalf("Get(A)=%q,%v, want=2,true", v, ok)
	}
	if v, ok := Get(env, "B"); !ok || v != "" {
		t.Fatalf("Get(B)=%q,%v, want empty,true", v, ok)
	}
	if _, ok := Get(env, "NOEQ"); ok {
		t.Fatalf("Get(NOEQ) found an entry without value")
	}
	if _, ok := Get(env, "C"); ok {
		t.Fatalf("Get(C) found a missing key")
	}
}

func TestSetDoesNotAlias(t *testing.T) {
	base := []string{"A=1", "B=2", "A=3"}
	got := Set(base, "A", "x")
	if strings.Join(got, ",") != "B=2,A=x" {
		t.Fatalf("Set=%v", got)
	}
	if strings.Join(base, ",") != "A=1,B=2,A=3" {
		t.Fatalf("base was modified: %v", base)
	}
}

func TestRemoveFold(t *testing.T) {
	env := []string{"HTTP_PROXY=a", "http_proxy=b", "Https_Proxy=c", "PATH=/bin", "HTTP_PROXY_EXTRA=keep"}
	got := RemoveFold(env, "HTTP_PROXY", "HTTPS_PROXY")
	if strings.Join(got, ",") != "PATH=/bin,HTTP_PROXY_EXTRA=keep" {
		t.Fatalf("RemoveFold=%v", got)
	}
}

func TestMerge(t *testing.T) {
	base := []string{"A=1", "B=2"}
	got := Merge(base, []string{"B=3", "C=4", "C=5"})
	if strings.Join(got, ",") != "A=1,B=3,C=5" {
		t.Fatalf("Merge=%v", got)
	}
	if strings.Join(base, ",") != "A=1,B=2" {
		t.Fatalf("base was modified: %v", base)
	}
}
