package ss

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/John-Robertt/route-cli/internal/model"
)

func TestParseSubscriptionText_RawList(t *testing.T) {
	raw := strings.Join([]string{
		"# comment",
		"  ",
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201",
		"ss://YWVzLTEyOC1nY206cDI=@example.com:8389#Node%202",
		"",
	}, "\n")

	nodes, lineErrs, err := ParseSubscriptionText("https://example.com/sub.txt", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lineErrs) != 0 {
		t.Fatalf("lineErrs=%v, want none", lineErrs)
	}
	if len(nodes) != 2 {
		t.Fatalf("len=%d, want=2", len(nodes))
	}
	if nodes[0].Kind != model.KindSS {
		t.Fatalf("kind=%q, want=%q", nodes[0].Kind, model.KindSS)
	}
	if nodes[0].Name != "Node 1" {
		t.Fatalf("name=%q, want=%q", nodes[0].Name, "Node 1")
	}
	if nodes[0].Host != "example.com" || nodes[0].Port != 8388 {
		t.Fatalf("host/port=%q/%d, want example.com/8388", nodes[0].Host, nodes[0].Port)
	}
	if !nodes[0].Support.OK() {
		t.Fatalf("support=%s, want supported", nodes[0].Support)
	}
}

func TestParseSubscriptionText_Base64List(t *testing.T) {
	raw := "ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201\n"
	b64 := base64.StdEncoding.EncodeToString([]byte(raw))

	nodes, _, err := ParseSubscriptionText("https://example.com/sub.b64", b64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("len=%d, want=1", len(nodes))
	}
	if nodes[0].Name != "Node 1" {
		t.Fatalf("name=%q, want=%q", nodes[0].Name, "Node 1")
	}
	if !LooksLikeURIList(b64) {
		t.Fatalf("LooksLikeURIList(base64) = false, want true")
	}
}

func TestParseSubscriptionText_PluginIsUnsupported(t *testing.T) {
	raw := "ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388/?plugin=simple-obfs%3Bobfs%3Dtls%3Bobfs-host%3Dexample.com#obfs\n"
	nodes, _, err := ParseSubscriptionText("https://example.com/sub.txt", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("len=%d, want=1", len(nodes))
	}
	if nodes[0].Support.OK() {
		t.Fatalf("node with plugin should be unsupported")
	}
	p, ok := nodes[0].Protocol.(model.Shadowsocks)
	if !ok {
		t.Fatalf("protocol=%T, want model.Shadowsocks", nodes[0].Protocol)
	}
	if p.Plugin != "simple-obfs" {
		t.Fatalf("plugin=%q, want=%q", p.Plugin, "simple-obfs")
	}
	if len(p.PluginOpts) != 2 || p.PluginOpts[0] != (model.KV{Key: "obfs", Value: "tls"}) {
		t.Fatalf("opts=%+v, want obfs=tls first", p.PluginOpts)
	}
}

func TestParseSubscriptionText_OldBase64Form(t *testing.T) {
	decoded := "aes-128-gcm:pass@ex.com:443"
	raw := "ss://" + base64.StdEncoding.EncodeToString([]byte(decoded)) + "#old\n"

	nodes, _, err := ParseSubscriptionText("https://example.com/sub.txt", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("len=%d, want=1", len(nodes))
	}
	p := nodes[0].Protocol.(model.Shadowsocks)
	if p.Cipher != "aes-128-gcm" || p.Password != "pass" {
		t.Fatalf("cipher/password=%q/%q, want aes-128-gcm/pass", p.Cipher, p.Password)
	}
	if nodes[0].Host != "ex.com" || nodes[0].Port != 443 {
		t.Fatalf("host/port=%q/%d, want ex.com/443", nodes[0].Host, nodes[0].Port)
	}
}

func TestParseSubscriptionText_BadLineIsSkipped(t *testing.T) {
	raw := strings.Join([]string{
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#good",
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:99999#bad-port",
		"vmess://abc",
	}, "\n")

	nodes, lineErrs, err := ParseSubscriptionText("https://example.com/sub.txt", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "good" {
		t.Fatalf("nodes=%+v, want only good", nodes)
	}
	if len(lineErrs) != 2 {
		t.Fatalf("lineErrs len=%d, want=2", len(lineErrs))
	}
	var pe *ParseError
	if !errors.As(lineErrs[0], &pe) {
		t.Fatalf("expected *ParseError, got %T", lineErrs[0])
	}
	if pe.AppError.Stage != "parse_sub" || pe.AppError.Line != 2 {
		t.Fatalf("stage/line=%q/%d, want parse_sub/2", pe.AppError.Stage, pe.AppError.Line)
	}
	if !errors.Is(lineErrs[1], model.ErrSubscription) {
		t.Fatalf("line error should classify as subscription error")
	}
	if pe2 := lineErrs[1].(*ParseError); pe2.AppError.Code != "SUB_UNSUPPORTED_SCHEME" {
		t.Fatalf("code=%q, want=SUB_UNSUPPORTED_SCHEME", pe2.AppError.Code)
	}
}

func TestParseSubscriptionText_Empty(t *testing.T) {
	_, _, err := ParseSubscriptionText("https://example.com/sub.txt", "  \n")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
	if pe.AppError.Code != "SUB_PARSE_ERROR" {
		t.Fatalf("code=%q, want=%q", pe.AppError.Code, "SUB_PARSE_ERROR")
	}
}

func TestParseSubscriptionText_UnnamedUsesAddress(t *testing.T) {
	nodes, _, err := ParseSubscriptionText("", "ss://YWVzLTEyOC1nY206cGFzcw==@[::1]:8388\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nodes[0].Name != "[::1]:8388" {
		t.Fatalf("name=%q, want=%q", nodes[0].Name, "[::1]:8388")
	}
}
