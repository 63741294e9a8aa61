package ss

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/route-cli/internal/model"
)

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) Is(target error) bool { return target == model.ErrSubscription }

func (e *ParseError) App() model.AppError { return e.AppError }

// LooksLikeURIList reports whether content is an ss:// list, either raw or
// base64 encoded.
func LooksLikeURIList(content string) bool {
	s := strings.TrimSpace(stripUTF8BOM(content))
	if s == "" {
		return false
	}
	if strings.Contains(s, "ss://") {
		return true
	}
	decoded, err := decodeSubscriptionBase64(s)
	if err != nil {
		return false
	}
	return strings.Contains(decoded, "ss://")
}

// ParseSubscriptionText parses an ss:// URI list. A line that cannot be parsed
// is returned as a *ParseError in lineErrs and skipped; err is non-nil only
// when the document as a whole is unusable. Region is left for the caller.
func ParseSubscriptionText(sourceURL string, content string) (nodes []model.Node, lineErrs []error, err error) {
	s := stripUTF8BOM(content)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "subscription is empty", "", nil)
	}

	// A document containing "ss://" is a raw list, anything else must be base64.
	if strings.Contains(s, "ss://") {
		nodes, lineErrs = parseRawList(sourceURL, s)
		return nodes, lineErrs, nil
	}

	decoded, derr := decodeSubscriptionBase64(s)
	if derr != nil {
		return nil, nil, newParseError(sourceURL, 0, truncateSnippet(s, 200), "SUB_BASE64_DECODE_ERROR", "subscription base64 decoding failed", "", derr)
	}
	decoded = strings.TrimSpace(stripUTF8BOM(decoded))
	if decoded == "" {
		return nil, nil, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "subscription is empty", "", nil)
	}
	nodes, lineErrs = parseRawList(sourceURL, decoded)
	return nodes, lineErrs, nil
}

func parseRawList(sourceURL, raw string) ([]model.Node, []error) {
	lines := strings.Split(raw, "\n")
	out := make([]model.Node, 0, len(lines))
	var errs []error
	for i, line := range lines {
		orig := line
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "ss://") {
			errs = append(errs, newParseError(sourceURL, i+1, truncateSnippet(orig, 200), "SUB_UNSUPPORTED_SCHEME", "only ss:// URIs are supported in URI lists", "expected: ss://...", nil))
			continue
		}

		n, err := uriLine{sourceURL: sourceURL, no: i + 1, raw: line}.parse()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, n)
	}
	return out, errs
}

// uriLine is one ss:// line and where it came from.
type uriLine struct {
	sourceURL string
	no        int
	raw       string
}

func (l uriLine) fail(message string, cause error) error {
	return newParseError(l.sourceURL, l.no, truncateSnippet(l.raw, 200), "SUB_PARSE_ERROR", message, "", cause)
}

func (l uriLine) parse() (model.Node, error) {
	// Fragment first: #name
	withoutFrag, frag, hasFrag := strings.Cut(l.raw, "#")
	name := ""
	if hasFrag {
		decoded, err := url.PathUnescape(frag)
		if err != nil {
			return model.Node{}, l.fail("node name URL decoding failed", err)
		}
		name = strings.TrimSpace(decoded)
		if strings.ContainsAny(name, "\r\n\x00") {
			return model.Node{}, l.fail("node name contains control characters", nil)
		}
	}

	withoutQuery, query, hasQuery := strings.Cut(withoutFrag, "?")
	pluginName, pluginOpts, err := l.plugin(query, hasQuery)
	if err != nil {
		return model.Node{}, err
	}

	rest := strings.TrimPrefix(withoutQuery, "ss://")
	if rest == "" {
		return model.Node{}, l.fail("missing content after ss://", nil)
	}

	var method, password, server string
	var port int

	if strings.Contains(rest, "@") {
		// SIP002: <b64(method:password)>@<host>:<port>
		userB64, hostPart, ok := strings.Cut(rest, "@")
		if !ok || userB64 == "" || hostPart == "" {
			return model.Node{}, l.fail("malformed ss URI", nil)
		}

		hostPort := hostPart
		if idx := strings.IndexByte(hostPort, '/'); idx >= 0 {
			if hostPort[idx:] != "/" {
				return model.Node{}, l.fail("ss URI path must be empty or /", nil)
			}
			hostPort = hostPort[:idx]
		}

		method, password, err = decodeMethodPassword(userB64)
		if err != nil {
			return model.Node{}, l.fail("ss userinfo base64 decoding failed", err)
		}
		server, port, err = splitServer(hostPort)
		if err != nil {
			return model.Node{}, l.fail("invalid server address or port", err)
		}
	} else {
		// Legacy: ss://<b64(method:password@host:port)>
		decoded, err := unbase64(rest)
		if err != nil {
			return model.Node{}, l.fail("ss base64 decoding failed", err)
		}
		if !utf8.ValidString(decoded) {
			return model.Node{}, l.fail("decoded ss URI is not valid UTF-8", nil)
		}
		at := strings.LastIndex(decoded, "@")
		if at < 0 {
			return model.Node{}, l.fail("decoded ss URI lacks the @ separator", nil)
		}
		method, password, err = splitMethodPassword(decoded[:at])
		if err != nil {
			return model.Node{}, l.fail("decoded ss URI lacks cipher:password", err)
		}
		server, port, err = splitServer(decoded[at+1:])
		if err != nil {
			return model.Node{}, l.fail("invalid server address or port", err)
		}
	}

	if name == "" {
		name = net.JoinHostPort(server, strconv.Itoa(port))
	}

	support := model.Supported()
	if pluginName != "" {
		support = model.Unsupported("ss plugin " + pluginName)
	}
	return model.Node{
		Name: name,
		Kind: model.KindSS,
		Host: server,
		Port: port,
		Protocol: model.Shadowsocks{
			Cipher:     method,
			Password:   password,
			Plugin:     pluginName,
			PluginOpts: pluginOpts,
		},
		Support: support,
	}, nil
}

func (l uriLine) plugin(query string, hasQuery bool) (string, []model.KV, error) {
	if !hasQuery || query == "" {
		return "", nil, nil
	}

	// net/url.ParseQuery rejects bare semicolons, which SIP002 uses inside
	// the plugin value, so split on '&' by hand.
	var pluginValue *string
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		kRaw, vRaw, hasEq := strings.Cut(part, "=")
		if !hasEq {
			return "", nil, l.fail("query parameters must be key=value", nil)
		}
		k, err := url.PathUnescape(kRaw)
		if err != nil {
			return "", nil, l.fail("query parameter decoding failed", err)
		}
		v, err := url.PathUnescape(vRaw)
		if err != nil {
			return "", nil, l.fail("query parameter decoding failed", err)
		}
		if k != "plugin" {
			// Unknown parameters (e.g. "group") carry no connection data.
			continue
		}
		if pluginValue != nil {
			return "", nil, l.fail("duplicate plugin parameter", nil)
		}
		pluginValue = &v
	}

	if pluginValue == nil || strings.TrimSpace(*pluginValue) == "" {
		return "", nil, nil
	}

	segs := strings.Split(*pluginValue, ";")
	pluginName := strings.TrimSpace(segs[0])
	if pluginName == "" {
		return "", nil, l.fail("plugin name is empty", nil)
	}
	opts := make([]model.KV, 0, len(segs)-1)
	for _, seg := range segs[1:] {
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			// Flag-style options such as "tls" have no value.
			k, v = seg, ""
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return "", nil, l.fail("plugin option key is empty", nil)
		}
		opts = append(opts, model.KV{Key: k, Value: v})
	}
	return pluginName, opts, nil
}

func splitServer(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	portInt, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return "", 0, err
	}
	if portInt < 1 || portInt > 65535 {
		return "", 0, errors.New("port out of range")
	}
	return host, portInt, nil
}

func decodeMethodPassword(userB64 string) (string, string, error) {
	decoded, err := unbase64(userB64)
	if err != nil {
		// SIP002 allows plain "method:password" for AEAD-2022 ciphers.
		plain, uerr := url.PathUnescape(userB64)
		if uerr != nil || !strings.Contains(plain, ":") {
			return "", "", err
		}
		decoded = plain
	}
	if !utf8.ValidString(decoded) {
		return "", "", errors.New("decoded method:password is not valid utf-8")
	}
	return splitMethodPassword(decoded)
}

func splitMethodPassword(s string) (string, string, error) {
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return "", "", errors.New("missing ':'")
	}
	method := strings.TrimSpace(s[:colon])
	password := strings.TrimSpace(s[colon+1:])
	if method == "" || password == "" {
		return "", "", errors.New("empty method or password")
	}
	if strings.ContainsAny(method, "\r\n\x00") || strings.ContainsAny(password, "\r\n\x00") {
		return "", "", errors.New("control chars in method/password")
	}
	return method, password, nil
}

func decodeSubscriptionBase64(s string) (string, error) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	decoded, err := unbase64(compact)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(decoded) {
		return "", errors.New("decoded subscription is not valid utf-8")
	}
	return decoded, nil
}

// base64Variants are tried in order: padded standard, padded URL-safe, then
// the unpadded forms.
var base64Variants = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

func unbase64(s string) (string, error) {
	var lastErr error
	for _, enc := range base64Variants {
		b, err := enc.DecodeString(s)
		if err == nil {
			return string(b), nil
		}
		lastErr = err
	}
	return "", lastErr
}

func stripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func newParseError(sourceURL string, lineNo int, snippet string, code string, message string, hint string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "parse_sub",
			URL:     sourceURL,
			Line:    lineNo,
			Snippet: snippet,
			Hint:    hint,
		},
		Cause: cause,
	}
}
