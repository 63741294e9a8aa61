package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// LegacyConfigName is the file earlier releases kept their settings in.
const LegacyConfigName = "config.toml"

type legacyConfig struct {
	Subscription struct {
		URL string `toml:"url"`
	} `toml:"subscription"`
	ProxyCore struct {
		Path string `toml:"path"`
	} `toml:"proxy_core"`
	Proxy struct {
		MixedPort int `toml:"mixed_port"`
	} `toml:"proxy"`
	Routing struct {
		ProxyDomains []string `toml:"proxy_domains"`
		NoProxy      []string `toml:"no_proxy"`
	} `toml:"routing"`
	Runtime struct {
		SelectedNode string `toml:"selected_node"`
	} `toml:"runtime"`
}

// importLegacy reads the config.toml next to path. ok is false when there is
// none.
func importLegacy(path string) (cfg Config, ok bool, err error) {
	src := filepath.Join(filepath.Dir(path), LegacyConfigName)
	raw, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("read legacy config: %w", err)
	}

	var old legacyConfig
	if err := toml.Unmarshal(raw, &old); err != nil {
		return Config{}, false, invalid(src, "config.toml is not valid TOML", err)
	}

	cfg = Default()
	cfg.Subscription.URL = old.Subscription.URL
	// sing-box.exe was the old platform default; keep ours unless the user
	// pointed somewhere else.
	if p := old.ProxyCore.Path; p != "" && p != "sing-box.exe" {
		cfg.ProxyCore.Path = p
	}
	if old.Proxy.MixedPort != 0 {
		cfg.Proxy.MixedPort = old.Proxy.MixedPort
	}
	if old.Routing.ProxyDomains != nil {
		cfg.Routing.ProxyDomains = old.Routing.ProxyDomains
	}
	if old.Routing.NoProxy != nil {
		cfg.Routing.NoProxy = old.Routing.NoProxy
	}
	cfg.Runtime.SelectedNode = old.Runtime.SelectedNode

	if err := cfg.Validate(); err != nil {
		return Config{}, false, invalid(src, err.Error(), nil)
	}
	return cfg, true, nil
}
