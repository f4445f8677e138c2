package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Effective pairs a config with where it came from, so startup banners can
// report the source.
type Effective struct {
	Config *Config
	Source string // "config", "env", or "defaults"
}

// LoadEffective loads the config file when present, then applies env
// overrides on top. A missing file is not an error; defaults plus env win.
func LoadEffective(path string) (Effective, error) {
	eff := Effective{Config: &Config{}, Source: "defaults"}
	if path != "" {
		cfg, err := Load(path)
		if err == nil {
			eff.Config = cfg
			eff.Source = "config"
		} else if !os.IsNotExist(err) {
			return Effective{}, err
		}
	}
	if applyEnv(eff.Config) && eff.Source == "defaults" {
		eff.Source = "env"
	}
	return eff, nil
}

// applyEnv overlays TERRACHAT_* env vars; returns true if any was used.
func applyEnv(cfg *Config) bool {
	used := false
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
			used = true
		}
	}
	set(&cfg.Client.APIBase, "TERRACHAT_API_BASE")
	set(&cfg.Client.WSURL, "TERRACHAT_WS_URL")
	set(&cfg.Client.ProjectID, "TERRACHAT_PROJECT_ID")
	set(&cfg.Client.ReconnectDelay, "TERRACHAT_RECONNECT_DELAY")
	set(&cfg.Stub.Address, "TERRACHAT_STUB_ADDRESS")
	set(&cfg.Stub.DBPath, "TERRACHAT_STUB_DB")
	set(&cfg.Logging.Level, "TERRACHAT_LOG_LEVEL")
	if v := strings.TrimSpace(os.Getenv("TERRACHAT_STUB_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Stub.Port = p
			used = true
		}
	}
	if v := strings.TrimSpace(os.Getenv("TERRACHAT_HISTORY_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.HistoryLimit = n
			used = true
		}
	}
	return used
}
