// Package sub turns a subscription document into Node records.
//
// Two document shapes are accepted: a Clash YAML document with a top-level
// "proxies" sequence, and a plain or base64 ss:// URI list. Parsing is
// entry-by-entry: a malformed entry becomes a Warning and is skipped, and only
// an unreadable document fails as a whole.
package sub

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/John-Robertt/route-cli/internal/model"
	"github.com/John-Robertt/route-cli/internal/sub/ss"
	"gopkg.in/yaml.v3"
)

const (
	FormatClash  = "clash"
	FormatSSList = "ss-uri-list"
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

// Warning describes one skipped entry. Entry is 1-based (the position in the
// proxies sequence, or the line number of a URI list).
type Warning struct {
	Entry   int
	Name    string
	Message string
}

func (w Warning) String() string {
	if w.Name == "" {
		return fmt.Sprintf("entry %d: %s", w.Entry, w.Message)
	}
	return fmt.Sprintf("entry %d (%s): %s", w.Entry, w.Name, w.Message)
}

type Result struct {
	Format   string
	Nodes    []model.Node
	Warnings []Warning
	// Notices name kept entries that carry settings the node cannot use.
	Notices []Warning
}

// Supported returns the nodes whose Support is OK, in subscription order.
func (r *Result) Supported() []model.Node {
	out := make([]model.Node, 0, len(r.Nodes))
	for _, n := range r.Nodes {
		if n.Support.OK() {
			out = append(out, n)
		}
	}
	return out
}

// Find returns the node named name.
func (r *Result) Find(name string) (model.Node, bool) {
	for _, n := range r.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return model.Node{}, false
}

type rawProxy struct {
	Name           string    `yaml:"name"`
	Type           string    `yaml:"type"`
	Server         string    `yaml:"server"`
	Port           portValue `yaml:"port"`
	Username       string    `yaml:"username"`
	Password       string    `yaml:"password"`
	UUID           string    `yaml:"uuid"`
	AlterID        int       `yaml:"alterId"`
	Cipher         string    `yaml:"cipher"`
	TLS            bool      `yaml:"tls"`
	SkipCertVerify bool      `yaml:"skip-cert-verify"`
	Network        string    `yaml:"network"`
	ServerName     string    `yaml:"servername"`
	SNI            string    `yaml:"sni"`
	UDPOverTCP     bool      `yaml:"udp-over-tcp"`

	WSOpts   *rawWSOpts   `yaml:"ws-opts"`
	GRPCOpts *rawGRPCOpts `yaml:"grpc-opts"`
	// Pre-Meta clash spelling of ws-opts.
	WSPath    string            `yaml:"ws-path"`
	WSHeaders map[string]string `yaml:"ws-headers"`

	Plugin     string         `yaml:"plugin"`
	PluginOpts map[string]any `yaml:"plugin-opts"`
}

type rawWSOpts struct {
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers"`
}

type rawGRPCOpts struct {
	ServiceName string `yaml:"grpc-service-name"`
}

// portValue accepts both `port: 443` and `port: "443"`.
type portValue int

func (p *portValue) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.New("port must be a scalar")
	}
	n, err := strconv.Atoi(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid port %q", value.Value)
	}
	*p = portValue(n)
	return nil
}

// ParseDocument parses raw subscription bytes fetched from sourceURL.
func ParseDocument(sourceURL string, raw []byte) (*Result, error) {
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return nil, newParseError(sourceURL, "SUB_PARSE_ERROR", "subscription is empty", "", nil)
	}

	var root yaml.Node
	yerr := yaml.Unmarshal(raw, &root)
	if yerr == nil {
		if proxies, ok := proxiesNode(&root); ok {
			return parseClash(sourceURL, proxies)
		}
	}

	if ss.LooksLikeURIList(text) {
		return parseURIList(sourceURL, text)
	}
	if yerr != nil {
		return nil, newParseError(sourceURL, "SUB_PARSE_ERROR", "invalid Clash subscription YAML", "", yerr)
	}
	return nil, newParseError(sourceURL, "SUB_NO_PROXIES", "no proxies were found in subscription", "expected a top-level `proxies:` list", nil)
}

func proxiesNode(root *yaml.Node) (*yaml.Node, bool) {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "proxies" {
			return doc.Content[i+1], true
		}
	}
	return nil, false
}

func parseClash(sourceURL string, proxies *yaml.Node) (*Result, error) {
	if proxies.Kind != yaml.SequenceNode || len(proxies.Content) == 0 {
		return nil, newParseError(sourceURL, "SUB_NO_PROXIES", "no proxies were found in subscription", "", nil)
	}

	res := &Result{Format: FormatClash, Nodes: make([]model.Node, 0, len(proxies.Content))}
	seen := make(map[string]struct{}, len(proxies.Content))
	for i, item := range proxies.Content {
		entry := i + 1
		var rp rawProxy
		if item.Kind != yaml.MappingNode {
			res.Warnings = append(res.Warnings, Warning{Entry: entry, Message: "entry is not a mapping"})
			continue
		}
		if err := item.Decode(&rp); err != nil {
			res.Warnings = append(res.Warnings, Warning{Entry: entry, Name: strings.TrimSpace(rp.Name), Message: err.Error()})
			continue
		}
		n, err := buildNode(rp)
		if err != nil {
			res.Warnings = append(res.Warnings, Warning{Entry: entry, Name: n.Name, Message: err.Error()})
			continue
		}
		if _, dup := seen[n.Name]; dup {
			res.Warnings = append(res.Warnings, Warning{Entry: entry, Name: n.Name, Message: "duplicate node name"})
			continue
		}
		seen[n.Name] = struct{}{}
		if msg := ignoredTLSFields(rp); msg != "" {
			res.Notices = append(res.Notices, Warning{Entry: entry, Name: n.Name, Message: msg})
		}
		res.Nodes = append(res.Nodes, n)
	}
	return res, nil
}

// ignoredTLSFields reports http and vmess entries that set TLS options while
// leaving tls off. Those options never reach the generated outbound.
func ignoredTLSFields(rp rawProxy) string {
	if rp.TLS {
		return ""
	}
	switch model.Kind(strings.ToLower(strings.TrimSpace(rp.Type))) {
	case model.KindHTTP, model.KindVMess:
	default:
		return ""
	}
	var set []string
	if rp.SNI != "" {
		set = append(set, "sni")
	}
	if rp.ServerName != "" {
		set = append(set, "servername")
	}
	if rp.SkipCertVerify {
		set = append(set, "skip-cert-verify")
	}
	if len(set) == 0 {
		return ""
	}
	return strings.Join(set, ", ") + " ignored without tls: true"
}

// buildNode validates one decoded entry. The returned error marks the entry
// as malformed; an entry that is well formed but cannot be used is returned
// with an Unsupported status instead.
func buildNode(rp rawProxy) (model.Node, error) {
	n := model.Node{
		Name: strings.TrimSpace(rp.Name),
		Kind: model.Kind(strings.ToLower(strings.TrimSpace(rp.Type))),
		Host: strings.TrimSpace(rp.Server),
		Port: int(rp.Port),
	}
	if n.Name == "" {
		return n, errors.New("missing name")
	}
	if n.Kind == "" {
		return n, errors.New("missing type")
	}
	if n.Host == "" {
		return n, errors.New("missing server")
	}
	if n.Port < 1 || n.Port > 65535 {
		return n, fmt.Errorf("port %d out of range", n.Port)
	}
	n.Region = DeriveRegion(n.Name, n.Host)
	n.Support = model.Supported()

	switch n.Kind {
	case model.KindSOCKS5, model.KindSOCKS:
		n.Protocol = model.SOCKS{Username: rp.Username, Password: rp.Password}
	case model.KindHTTP:
		n.Protocol = model.HTTP{
			Username:       rp.Username,
			Password:       rp.Password,
			TLS:            rp.TLS,
			SNI:            firstNonEmpty(rp.SNI, rp.ServerName),
			SkipCertVerify: rp.SkipCertVerify,
		}
	case model.KindSS:
		if rp.Cipher == "" || rp.Password == "" {
			return n, errors.New("ss entry requires cipher and password")
		}
		p := model.Shadowsocks{
			Cipher:     rp.Cipher,
			Password:   rp.Password,
			UDPOverTCP: rp.UDPOverTCP,
			Plugin:     strings.TrimSpace(rp.Plugin),
			PluginOpts: flattenOpts(rp.PluginOpts),
		}
		if p.Plugin != "" {
			n.Support = model.Unsupported("ss plugin " + p.Plugin)
		}
		n.Protocol = p
	case model.KindVMess:
		if strings.TrimSpace(rp.UUID) == "" {
			return n, errors.New("vmess entry requires uuid")
		}
		p := model.VMess{
			UUID:           strings.TrimSpace(rp.UUID),
			AlterID:        rp.AlterID,
			Security:       rp.Cipher,
			TLS:            rp.TLS,
			ServerName:     firstNonEmpty(rp.ServerName, rp.SNI),
			SkipCertVerify: rp.SkipCertVerify,
			Network:        strings.ToLower(strings.TrimSpace(rp.Network)),
		}
		switch p.Network {
		case "", "tcp":
			p.Network = "tcp"
		case "ws":
			p.WSPath, p.WSHeaders = rp.WSPath, rp.WSHeaders
			if rp.WSOpts != nil {
				p.WSPath = firstNonEmpty(rp.WSOpts.Path, p.WSPath)
				if len(rp.WSOpts.Headers) > 0 {
					p.WSHeaders = rp.WSOpts.Headers
				}
			}
		case "grpc":
			if rp.GRPCOpts != nil {
				p.GRPCServiceName = rp.GRPCOpts.ServiceName
			}
		default:
			n.Support = model.Unsupported("vmess transport " + p.Network)
		}
		n.Protocol = p
	default:
		n.Support = model.Unsupported("unknown kind")
	}
	return n, nil
}

func parseURIList(sourceURL, text string) (*Result, error) {
	nodes, lineErrs, err := ss.ParseSubscriptionText(sourceURL, text)
	if err != nil {
		return nil, err
	}
	res := &Result{Format: FormatSSList, Nodes: make([]model.Node, 0, len(nodes))}
	for _, lerr := range lineErrs {
		w := Warning{Message: lerr.Error()}
		var pe *ss.ParseError
		if errors.As(lerr, &pe) {
			w.Entry = pe.AppError.Line
			w.Message = pe.AppError.Message
		}
		res.Warnings = append(res.Warnings, w)
	}
	seen := make(map[string]struct{}, len(nodes))
	for i, n := range nodes {
		if _, dup := seen[n.Name]; dup {
			res.Warnings = append(res.Warnings, Warning{Entry: i + 1, Name: n.Name, Message: "duplicate node name"})
			continue
		}
		seen[n.Name] = struct{}{}
		n.Region = DeriveRegion(n.Name, n.Host)
		res.Nodes = append(res.Nodes, n)
	}
	return res, nil
}

func flattenOpts(m map[string]any) []model.KV {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.KV, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.KV{Key: k, Value: fmt.Sprint(m[k])})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func newParseError(sourceURL, code, message, hint string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "parse_sub",
			URL:     sourceURL,
			Hint:    hint,
		},
		Cause: cause,
	}
}
