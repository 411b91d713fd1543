// SPDX-License-Identifier: BSD-2-Clause

// Package appconfig loads the CLI shell's own host-level settings: which
// ZFS pool/source to operate against, where to log, and mirror URL
// overrides for release fetches. This is distinct from the per-jail
// config model in package config, which owns its own JSON/UCL/ZFS-property
// persistence and never touches viper.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bsdci/libioc/internal/logger"
)

var (
	instance   *Config
	once       sync.Once
	configPath string
)

// Config is the CLI shell's own settings, distinct from any jail's Config.
type Config struct {
	Pool         string `mapstructure:"pool"`
	Source       string `mapstructure:"source"`
	LogLevel     string `mapstructure:"logLevel"`
	DataPath     string `mapstructure:"dataPath"`
	Distribution string `mapstructure:"distribution"`

	Mirror struct {
		FreeBSDBaseURL     string `mapstructure:"freebsdBaseURL"`
		HardenedBSDBaseURL string `mapstructure:"hardenedbsdBaseURL"`
		Insecure           bool   `mapstructure:"insecure"`
	} `mapstructure:"mirror"`
}

// ConfigDir returns the directory holding the CLI shell's own config file,
// "/usr/local/etc/iocctl" when run as root, "~/.iocctl" otherwise.
func ConfigDir() string {
	if os.Geteuid() == 0 {
		return "/usr/local/etc/iocctl"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".iocctl"
	}
	return filepath.Join(home, ".iocctl")
}

const fileName = "iocctl.yaml"

// Load reads the CLI shell's config with the usual precedence: explicit
// path, then IOCCTL_CONFIG, then the system-wide default. Missing files are
// filled with defaults and persisted (mirrors stratastor-rodent's
// config.LoadConfig).
func Load(explicitPath string) *Config {
	once.Do(func() {
		viper.Reset()
		viper.SetConfigType("yaml")

		systemPath := filepath.Join(ConfigDir(), fileName)
		switch {
		case explicitPath != "":
			configPath = explicitPath
		case os.Getenv("IOCCTL_CONFIG") != "":
			configPath = os.Getenv("IOCCTL_CONFIG")
		default:
			configPath = systemPath
		}
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		viper.SetConfigFile(configPath)

		viper.SetDefault("pool", "zroot")
		viper.SetDefault("source", "iocage")
		viper.SetDefault("logLevel", "info")
		viper.SetDefault("dataPath", "/var/db/iocctl")
		viper.SetDefault("distribution", "FreeBSD")
		viper.SetDefault("mirror.freebsdBaseURL", "https://download.freebsd.org/ftp/releases")
		viper.SetDefault("mirror.hardenedbsdBaseURL", "https://mirror.hardenedbsd.org/hardenedbsd/releases")
		viper.SetDefault("mirror.insecure", false)

		viper.AutomaticEnv()
		viper.SetEnvPrefix("IOCCTL")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		cfg := &Config{}
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				logger.BootstrapWarn(fmt.Sprintf("error reading config, using defaults: %v", err))
			}
			if uerr := viper.Unmarshal(cfg); uerr != nil {
				logger.BootstrapFatal(fmt.Sprintf("failed to build default config: %v", uerr))
			}
			if err := os.MkdirAll(ConfigDir(), 0750); err == nil {
				_ = Save(cfg, systemPath)
			}
		} else if err := viper.Unmarshal(cfg); err != nil {
			logger.BootstrapFatal(fmt.Sprintf("failed to parse config: %v", err))
		}

		instance = cfg
	})
	return instance
}

// Save persists cfg as YAML to path (or the loaded path if path is empty).
func Save(cfg *Config, path string) error {
	if path == "" {
		path = configPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	configPath = path
	return nil
}

// LoadedPath returns the path the active config was loaded from or saved to.
func LoadedPath() string { return configPath }

// DistributionName returns the configured distribution name as a plain
// string, "FreeBSD" when unset; this package does not import host (kept
// dependency-light since it loads before the logger/host facade are wired up).
func (c *Config) DistributionName() string {
	if c.Distribution == "" {
		return "FreeBSD"
	}
	return c.Distribution
}
