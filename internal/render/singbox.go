package render

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/John-Robertt/route-cli/internal/model"
	"github.com/John-Robertt/route-cli/internal/rules"
)

type singBoxConfig struct {
	Log       logOptions `json:"log"`
	Inbounds  []inbound  `json:"inbounds"`
	Outbounds []outbound `json:"outbounds"`
	Route     route      `json:"route"`
}

type logOptions struct {
	Level string `json:"level"`
}

type inbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Listen     string `json:"listen"`
	ListenPort int    `json:"listen_port"`
}

type outbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Server     string `json:"server,omitempty"`
	ServerPort int    `json:"server_port,omitempty"`

	// socks
	Version string `json:"version,omitempty"`
	// socks, http
	Username string `json:"username,omitempty"`
	// socks, http, shadowsocks
	Password string `json:"password,omitempty"`

	// shadowsocks
	Method     string `json:"method,omitempty"`
	UDPOverTCP bool   `json:"udp_over_tcp,omitempty"`

	// vmess
	UUID     string `json:"uuid,omitempty"`
	AlterID  int    `json:"alter_id,omitempty"`
	Security string `json:"security,omitempty"`

	TLS       *tlsOptions       `json:"tls,omitempty"`
	Transport *transportOptions `json:"transport,omitempty"`
}

type tlsOptions struct {
	Enabled    bool   `json:"enabled"`
	ServerName string `json:"server_name,omitempty"`
	Insecure   bool   `json:"insecure,omitempty"`
}

type transportOptions struct {
	Type        string            `json:"type"`
	Path        string            `json:"path,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
}

type route struct {
	Rules []routeRule `json:"rules,omitempty"`
	Final string      `json:"final"`
}

// routeRule fields are ORed by the core.
type routeRule struct {
	Domain        []string `json:"domain,omitempty"`
	DomainSuffix  []string `json:"domain_suffix,omitempty"`
	DomainKeyword []string `json:"domain_keyword,omitempty"`
	IPCIDR        []string `json:"ip_cidr,omitempty"`
	Outbound      string   `json:"outbound"`
}

// SingBox renders the sing-box configuration that serves policy through node.
// The output depends only on its arguments, so equal inputs give identical
// bytes.
func SingBox(node model.Node, policy model.RoutingPolicy) ([]byte, error) {
	if !node.Support.OK() {
		return nil, unsupported(node, node.Support.Reason)
	}
	if policy.MixedPort < 1 || policy.MixedPort > 65535 {
		return nil, invalidPolicy(fmt.Sprintf("mixed port %d out of range", policy.MixedPort))
	}

	out, err := nodeOutbound(node)
	if err != nil {
		return nil, err
	}

	directRules, err := rules.Parse("no_proxy", policy.NoProxy, TagDirect)
	if err != nil {
		return nil, err
	}
	proxyRules, err := rules.Parse("proxy_domains", policy.ProxyDomains, TagProxy)
	if err != nil {
		return nil, err
	}

	cfg := singBoxConfig{
		Log: logOptions{Level: "warn"},
		Inbounds: []inbound{{
			Type:       "mixed",
			Tag:        TagInbound,
			Listen:     ListenAddr,
			ListenPort: policy.MixedPort,
		}},
		Outbounds: []outbound{out, {Type: "direct", Tag: TagDirect}},
		Route:     route{Final: TagDirect},
	}
	// Bypass entries win over proxied domains.
	for _, group := range [][]model.Rule{directRules, proxyRules} {
		if rr, ok := groupRules(group); ok {
			cfg.Route.Rules = append(cfg.Route.Rules, rr)
		}
	}

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, &ConfigError{
			AppError: model.AppError{Code: "RENDER_ERROR", Message: "encoding sing-box config failed", Stage: "render"},
			Cause:    err,
		}
	}
	return append(b, '\n'), nil
}

// ListenAddress is the address the rendered inbound accepts connections on.
func ListenAddress(policy model.RoutingPolicy) string {
	return ListenAddr + ":" + strconv.Itoa(policy.MixedPort)
}

func nodeOutbound(n model.Node) (outbound, error) {
	o := outbound{Tag: TagProxy, Server: n.Host, ServerPort: n.Port}

	switch p := n.Protocol.(type) {
	case model.SOCKS:
		o.Type = "socks"
		o.Version = "5"
		o.Username = p.Username
		o.Password = p.Password
	case model.HTTP:
		o.Type = "http"
		o.Username = p.Username
		o.Password = p.Password
		if p.TLS {
			o.TLS = &tlsOptions{Enabled: true, ServerName: p.SNI, Insecure: p.SkipCertVerify}
		}
	case model.Shadowsocks:
		if p.Plugin != "" {
			return o, unsupported(n, "ss plugin "+p.Plugin)
		}
		o.Type = "shadowsocks"
		o.Method = p.Cipher
		o.Password = p.Password
		o.UDPOverTCP = p.UDPOverTCP
	case model.VMess:
		o.Type = "vmess"
		o.UUID = p.UUID
		o.AlterID = p.AlterID
		o.Security = p.Security
		if p.TLS {
			o.TLS = &tlsOptions{Enabled: true, ServerName: p.ServerName, Insecure: p.SkipCertVerify}
		}
		switch p.Network {
		case "", "tcp":
		case "ws":
			o.Transport = &transportOptions{Type: "ws", Path: p.WSPath, Headers: p.WSHeaders}
		case "grpc":
			o.Transport = &transportOptions{Type: "grpc", ServiceName: p.GRPCServiceName}
		default:
			return o, unsupported(n, "vmess transport "+p.Network)
		}
	default:
		return o, unsupported(n, "unknown kind")
	}
	return o, nil
}

func groupRules(rs []model.Rule) (routeRule, bool) {
	if len(rs) == 0 {
		return routeRule{}, false
	}
	rr := routeRule{Outbound: rs[0].Outbound}
	for _, r := range rs {
		switch r.Type {
		case model.RuleDomain:
			rr.Domain = append(rr.Domain, r.Value)
		case model.RuleDomainSuffix:
			rr.DomainSuffix = append(rr.DomainSuffix, r.Value)
		case model.RuleDomainKeyword:
			rr.DomainKeyword = append(rr.DomainKeyword, r.Value)
		case model.RuleIPCIDR:
			rr.IPCIDR = append(rr.IPCIDR, r.Value)
		}
	}
	return rr, true
}
