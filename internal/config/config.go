// Package config loads and saves config.yaml and locates the files route-cli
// keeps under its root directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/John-Robertt/route-cli/internal/model"
	"gopkg.in/yaml.v3"
)

// DefaultProxyDomains are routed through the node when the user has not
// configured their own list.
var DefaultProxyDomains = []string{
	"openai.com",
	"api.openai.com",
	"chatgpt.com",
	"oaistatic.com",
	"oaiusercontent.com",
	"openaiapi-site.azureedge.net",
}

type Config struct {
	Subscription Subscription `yaml:"subscription"`
	ProxyCore    ProxyCore    `yaml:"proxy_core"`
	Proxy        Proxy        `yaml:"proxy"`
	Routing      Routing      `yaml:"routing"`
	Runtime      Runtime      `yaml:"runtime"`
	Probe        Probe        `yaml:"probe"`
	Log          Log          `yaml:"log"`
}

type Subscription struct {
	URL string `yaml:"url"`
}

type ProxyCore struct {
	// Path is "sing-box" to search the bundled location and PATH, or an
	// explicit executable.
	Path         string   `yaml:"path"`
	StartTimeout Duration `yaml:"start_timeout"`
	StopGrace    Duration `yaml:"stop_grace"`
}

type Proxy struct {
	MixedPort int `yaml:"mixed_port"`
}

type Routing struct {
	ProxyDomains []string `yaml:"proxy_domains"`
	NoProxy      []string `yaml:"no_proxy"`
}

type Runtime struct {
	SelectedNode   string    `yaml:"selected_node"`
	LastSelectedAt time.Time `yaml:"last_selected_at,omitempty"`
}

type Probe struct {
	Mode        string   `yaml:"mode"`
	Timeout     Duration `yaml:"timeout"`
	Parallelism int      `yaml:"parallelism"`
	// Target is dialed through socks nodes in "connect" mode.
	Target string `yaml:"target"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Duration is a time.Duration written as "8s" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(v)
	return nil
}

func Default() Config {
	return Config{
		ProxyCore: ProxyCore{
			Path:         "sing-box",
			StartTimeout: Duration(8 * time.Second),
			StopGrace:    Duration(3 * time.Second),
		},
		Proxy: Proxy{MixedPort: 27890},
		Routing: Routing{
			ProxyDomains: append([]string(nil), DefaultProxyDomains...),
			NoProxy:      []string{"localhost", "127.0.0.1"},
		},
		Probe: Probe{
			Mode:        "tcp",
			Timeout:     Duration(2 * time.Second),
			Parallelism: 4,
			Target:      "cp.cloudflare.com:80",
		},
		Log: Log{Level: "info"},
	}
}

type Error struct {
	AppError model.AppError
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) App() model.AppError { return e.AppError }

func invalid(path, message string, cause error) error {
	return &Error{
		AppError: model.AppError{
			Code:    "CONFIG_INVALID",
			Message: message,
			Stage:   "config",
			URL:     path,
			Hint:    "fix the file or delete it to start over with defaults",
		},
		Cause: cause,
	}
}

// Load reads path. A missing file is imported from a sibling config.toml when
// one exists and is otherwise created with defaults; keys absent from an
// existing file keep their default values.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, ok, err := importLegacy(path)
		if err != nil {
			return Config{}, err
		}
		if !ok {
			cfg = Default()
		}
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, invalid(path, "config.yaml is not valid YAML", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, invalid(path, err.Error(), nil)
	}
	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return WriteFileAtomic(path, b, 0o600)
}

func (c Config) Validate() error {
	if c.Proxy.MixedPort < 1 || c.Proxy.MixedPort > 65535 {
		return fmt.Errorf("proxy.mixed_port %d out of range", c.Proxy.MixedPort)
	}
	if c.ProxyCore.StartTimeout <= 0 || c.ProxyCore.StopGrace <= 0 {
		return errors.New("proxy_core timeouts must be positive")
	}
	switch strings.ToLower(c.Probe.Mode) {
	case "tcp", "connect":
	default:
		return fmt.Errorf("probe.mode %q must be tcp or connect", c.Probe.Mode)
	}
	if c.Probe.Timeout <= 0 {
		return errors.New("probe.timeout must be positive")
	}
	if c.Probe.Parallelism < 1 {
		return fmt.Errorf("probe.parallelism %d must be at least 1", c.Probe.Parallelism)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c Config) Policy() model.RoutingPolicy {
	return model.RoutingPolicy{
		ProxyDomains: append([]string(nil), c.Routing.ProxyDomains...),
		NoProxy:      append([]string(nil), c.Routing.NoProxy...),
		MixedPort:    c.Proxy.MixedPort,
	}
}

func (c Config) RuntimeState() model.RuntimeState {
	return model.RuntimeState{SelectedNode: c.Runtime.SelectedNode, LastSelectedAt: c.Runtime.LastSelectedAt}
}

func (c *Config) SetRuntimeState(s model.RuntimeState) {
	c.Runtime = Runtime{SelectedNode: s.SelectedNode, LastSelectedAt: s.LastSelectedAt.UTC().Truncate(time.Second)}
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}
