// Package config loads the spindb configuration file (TOML) and resolves
// the root directory every other component hangs off of.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/robertjbass/spindb-sub005/internal/binaries"
	"github.com/robertjbass/spindb-sub005/internal/logger"
	"github.com/robertjbass/spindb-sub005/internal/metrics"
)

// EnvHome overrides every other root-directory source when set.
const EnvHome = "SPINDB_HOME"

const configFileName = "config.toml"

// Config represents the top-level TOML structure. Every field is optional;
// a missing file yields Default().
type Config struct {
	// Home is the spindb root directory. Empty means ~/.spindb.
	Home string `toml:"home" mapstructure:"home"`
	// PortBases overrides the port-scan base per engine, e.g.
	// port_bases = { postgres = 15432 }.
	PortBases map[string]int        `toml:"port_bases" mapstructure:"port_bases"`
	Download  Download              `toml:"download" mapstructure:"download"`
	Log       logger.Config         `toml:"log" mapstructure:"log"`
	History   History               `toml:"history" mapstructure:"history"`
	Server    Server                `toml:"server" mapstructure:"server"`
	Sampler   metrics.SamplerConfig `toml:"sampler" mapstructure:"sampler"`
}

// Download configures the binary provisioning manager.
type Download struct {
	BaseURL string        `toml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// History configures the lifecycle event sink. An empty DSN disables
// history recording.
type History struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// Server configures the spindb serve listener.
type Server struct {
	Listen string `toml:"listen" mapstructure:"listen"`
	// BasePath mounts the API under a prefix, e.g. "/api".
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	// MetricsListen starts a second listener serving only /metrics.
	// Empty leaves metrics on the main listener.
	MetricsListen string `toml:"metrics_listen" mapstructure:"metrics_listen"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Download: Download{
			BaseURL: binaries.DefaultBaseURL,
			Timeout: binaries.DefaultDownloadTimeout,
		},
		Log:     logger.Config{Level: "info"},
		Server:  Server{Listen: "127.0.0.1:7433"},
		Sampler: metrics.SamplerConfig{Interval: 5 * time.Second},
	}
}

// Load reads the TOML file at path. An empty path falls back to
// <home>/config.toml, and that file being absent is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = filepath.Join(cfg.HomeDir(), configFileName)
		if _, err := os.Stat(path); err != nil {
			return cfg, nil
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Download.BaseURL == "" {
		cfg.Download.BaseURL = binaries.DefaultBaseURL
	}
	if cfg.Download.Timeout <= 0 {
		cfg.Download.Timeout = binaries.DefaultDownloadTimeout
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = Default().Server.Listen
	}
	return cfg, nil
}

// HomeDir resolves the spindb root directory. Precedence: $SPINDB_HOME,
// then the configured home, then ~/.spindb.
func (c Config) HomeDir() string {
	if env := os.Getenv(EnvHome); env != "" {
		return env
	}
	if c.Home != "" {
		return expandHome(c.Home)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".spindb"
	}
	return filepath.Join(home, ".spindb")
}

// ContainersDir is where container registries live.
func (c Config) ContainersDir() string { return filepath.Join(c.HomeDir(), "containers") }

// BinariesDir is the engine binary cache.
func (c Config) BinariesDir() string { return filepath.Join(c.HomeDir(), "binaries") }

// PortBase returns the configured scan base for an engine, falling back to
// the engine's default port.
func (c Config) PortBase(engine string, fallback int) int {
	if p, ok := c.PortBases[engine]; ok && p > 0 {
		return p
	}
	return fallback
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			rest := strings.TrimLeft(strings.TrimPrefix(p, "~"), `/\`)
			return filepath.Join(home, rest)
		}
	}
	return p
}
