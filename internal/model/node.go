package model

import (
	"net"
	"strconv"
)

type KV struct {
	Key   string
	Value string
}

// Kind is the subscription "type" of a node. Values outside the known set are
// kept verbatim so they can still be listed.
type Kind string

const (
	KindSOCKS5 Kind = "socks5"
	KindSOCKS  Kind = "socks"
	KindHTTP   Kind = "http"
	KindSS     Kind = "ss"
	KindVMess  Kind = "vmess"
)

func (k Kind) Known() bool {
	switch k {
	case KindSOCKS5, KindSOCKS, KindHTTP, KindSS, KindVMess:
		return true
	default:
		return false
	}
}

// Region is a coarse location tag. The declaration order is the selection
// priority: lower values are preferred.
type Region int

const (
	RegionSingapore Region = iota
	RegionKorea
	RegionUnitedStates
	RegionOther
)

func (r Region) String() string {
	switch r {
	case RegionSingapore:
		return "Singapore"
	case RegionKorea:
		return "Korea"
	case RegionUnitedStates:
		return "UnitedStates"
	default:
		return "Other"
	}
}

// Protocol is the kind-specific payload of a Node. The set of implementations
// is closed: SOCKS, HTTP, Shadowsocks and VMess.
type Protocol interface {
	isProtocol()
}

// SOCKS covers both "socks5" and "socks" entries.
type SOCKS struct {
	Username string
	Password string
}

type HTTP struct {
	Username       string
	Password       string
	TLS            bool
	SNI            string
	SkipCertVerify bool
}

type Shadowsocks struct {
	Cipher     string
	Password   string
	UDPOverTCP bool

	// Plugin/PluginOpts are recorded for listing only; a node carrying a
	// plugin is never Supported.
	Plugin     string
	PluginOpts []KV
}

type VMess struct {
	UUID           string
	AlterID        int
	Security       string // clash "cipher"
	TLS            bool
	ServerName     string // clash "servername", falling back to "sni"
	SkipCertVerify bool

	Network         string // "tcp" | "ws" | "grpc"; empty means tcp
	WSPath          string
	WSHeaders       map[string]string
	GRPCServiceName string
}

func (SOCKS) isProtocol()       {}
func (HTTP) isProtocol()        {}
func (Shadowsocks) isProtocol() {}
func (VMess) isProtocol()       {}

// Support is Supported when Reason is empty.
type Support struct {
	Reason string
}

func Supported() Support { return Support{} }

func Unsupported(reason string) Support { return Support{Reason: reason} }

func (s Support) OK() bool { return s.Reason == "" }

func (s Support) String() string {
	if s.OK() {
		return "supported"
	}
	return "unsupported (" + s.Reason + ")"
}

// Node is one proxy endpoint from a subscription.
type Node struct {
	Name     string
	Kind     Kind
	Host     string
	Port     int
	Region   Region
	Protocol Protocol // nil for unknown kinds
	Support  Support
}

func (n Node) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}
