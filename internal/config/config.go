// Package config loads the ad index watcher's runtime configuration from
// layered sources: built-in defaults, an optional YAML file, environment
// variables, and command-line flags, in ascending priority.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds the watcher's runtime configuration.
type Config struct {
	Addr         string `koanf:"addr"`
	DataDir      string `koanf:"data_dir"`
	AssetDir     string `koanf:"asset_dir"`
	VAPIDSubject string `koanf:"vapid_subject"`

	RefreshInterval      time.Duration `koanf:"refresh_interval"`
	AdTextExpiration     time.Duration `koanf:"ad_text_expiration"`
	MinNotifyInterval    time.Duration `koanf:"min_notify_interval"`
	MaxAdHistory         int           `koanf:"max_ad_history"`
	SessionExpiration    time.Duration `koanf:"session_expiration"`
	MaxMessageRetries    int           `koanf:"max_message_retries"`
	MessageRetryInterval time.Duration `koanf:"message_retry_interval"`

	ConfigFile string `koanf:"-"`
}

func defaults() *Config {
	return &Config{
		Addr:                 ":4782",
		DataDir:              defaultDataDir(),
		AssetDir:             "",
		VAPIDSubject:         "mailto:admin@example.com",
		RefreshInterval:      5 * time.Minute,
		AdTextExpiration:     5 * 24 * time.Hour,
		MinNotifyInterval:    5 * time.Minute,
		MaxAdHistory:         50,
		SessionExpiration:    120 * 24 * time.Hour,
		MaxMessageRetries:    3,
		MessageRetryInterval: 30 * time.Minute,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "adindex")
	}
	return filepath.Join(home, ".config", "adindex")
}

// envPrefix is stripped from environment variable names before they are
// mapped onto koanf paths, e.g. ADINDEX_MAX_AD_HISTORY -> max_ad_history.
const envPrefix = "ADINDEX_"

// Load resolves configuration in ascending priority: built-in defaults,
// an optional YAML file (flagPath, or the ADINDEX_CONFIG env var, or
// ./adindex.yaml if present), ADINDEX_-prefixed environment variables,
// and finally the parsed flag set.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("adindex", flag.ContinueOnError)
	d := defaults()
	flagCfg := &Config{}
	fs.StringVar(&flagCfg.Addr, "addr", "", "listen address")
	fs.StringVar(&flagCfg.DataDir, "data-dir", "", "data directory")
	fs.StringVar(&flagCfg.AssetDir, "asset-dir", "", "static asset directory")
	fs.StringVar(&flagCfg.VAPIDSubject, "vapid-subject", "", "VAPID JWT subject (mailto: or https: URL)")
	fs.StringVar(&flagCfg.ConfigFile, "config", "", "path to an optional YAML config file")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(d, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := configFilePath(flagCfg.ConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ToLower(s)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if overrides := flagOverrides(fs, flagCfg); len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	cfg.ConfigFile = flagCfg.ConfigFile

	return cfg, nil
}

// flagOverrides returns only the flags explicitly set on the command line,
// so an unset flag never clobbers a value from the file or environment.
func flagOverrides(fs *flag.FlagSet, flagCfg *Config) map[string]interface{} {
	overrides := map[string]interface{}{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			overrides["addr"] = flagCfg.Addr
		case "data-dir":
			overrides["data_dir"] = flagCfg.DataDir
		case "asset-dir":
			overrides["asset_dir"] = flagCfg.AssetDir
		case "vapid-subject":
			overrides["vapid_subject"] = flagCfg.VAPIDSubject
		}
	})
	return overrides
}

func configFilePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv(envPrefix + "CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("adindex.yaml"); err == nil {
		return "adindex.yaml"
	}
	return ""
}

// Validate checks the configuration and ensures the data directory exists.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.VAPIDSubject == "" {
		return fmt.Errorf("vapid_subject is required")
	}
	if !strings.HasPrefix(c.VAPIDSubject, "mailto:") && !strings.HasPrefix(c.VAPIDSubject, "https:") {
		return fmt.Errorf("vapid_subject must be a mailto: or https: URL")
	}
	if c.MaxAdHistory <= 0 {
		return fmt.Errorf("max_ad_history must be positive")
	}
	if c.MaxMessageRetries <= 0 {
		return fmt.Errorf("max_message_retries must be positive")
	}
	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// DBPath returns the path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "adindex.db")
}
