package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Listen          string `toml:"listen" yaml:"listen"`
	PluginDir       string `toml:"plugin_dir" yaml:"plugin_dir"`
	LogLevel        string `toml:"log_level" yaml:"log_level"`
	MaxDecodes      int    `toml:"max_decodes" yaml:"max_decodes"`
	ShutdownTimeout string `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	Channel         string `toml:"channel" yaml:"channel"`
	Watch           *bool  `toml:"watch" yaml:"watch"`
	WatchDebounce   string `toml:"watch_debounce" yaml:"watch_debounce"`
	Control         *bool  `toml:"control" yaml:"control"`
	Open            string `toml:"open" yaml:"open"`
}

// LoadFileConfig reads a config file. Files ending in .yaml or .yml are
// parsed as YAML; anything else as TOML.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.diffrant/config.toml, or "" without a home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".diffrant", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.Listen, &cfg.Listen)
	s.setString("plugin-dir", fc.PluginDir, &cfg.PluginDir)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("channel", fc.Channel, &cfg.Channel)
	s.setString("open", fc.Open, &cfg.OpenPath)

	s.setInt("max-decodes", fc.MaxDecodes, &cfg.MaxDecodes)

	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("watch-debounce", fc.WatchDebounce, &cfg.WatchDebounce); err != nil {
		return err
	}

	s.setBool("watch", fc.Watch, &cfg.Watch)
	s.setBool("control", fc.Control, &cfg.Control)
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
