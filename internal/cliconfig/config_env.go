package cliconfig

import "os"

// ApplyEnvConfig applies DIFFRANT_* environment variables to cfg.
// Values override the config file but not explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	s.setString("listen", env("LISTEN"), &cfg.Listen)
	s.setString("plugin-dir", env("PLUGIN_DIR"), &cfg.PluginDir)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("channel", env("CHANNEL"), &cfg.Channel)
	s.setString("open", env("OPEN"), &cfg.OpenPath)

	if err := s.setIntFromString("max-decodes", env("MAX_DECODES"), &cfg.MaxDecodes); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", env("SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("watch-debounce", env("WATCH_DEBOUNCE"), &cfg.WatchDebounce); err != nil {
		return err
	}

	s.setBoolFromString("watch", env("WATCH"), &cfg.Watch)
	s.setBoolFromString("control", env("CONTROL"), &cfg.Control)
	return nil
}
