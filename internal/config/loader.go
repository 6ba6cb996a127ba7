// Package config provides configuration loading, defaults, and validation for
// the LogPipe-Agents pipeline.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all pipeline settings.
const envPrefix = "LOGPIPE"

// The four well-known files inside a configuration directory.  base.yaml is
// mandatory; the others default to empty sections when absent so a process can
// run a subset of the pipeline (e.g. no databases).
const (
	baseFile      = "base.yaml"
	agentsFile    = "agents.yaml"
	databasesFile = "databases.yaml"
	producersFile = "producers.yaml"
)

// newViper builds a pre-configured Viper instance with the pipeline's standard
// settings: YAML file type, LOGPIPE_ env prefix, automatic env binding, and a
// key replacer that maps "." → "_" so that nested keys like "app.log_level"
// resolve to "LOGPIPE_APP_LOG_LEVEL".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv only sees keys that already exist in viper's state, so the
	// overridable base settings are bound explicitly.
	for _, key := range []string{
		"app.name", "app.version", "app.log_dir", "app.log_level",
		"app.log_format", "app.metrics_port",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// LoadDir reads the four configuration files from dir, merges LOGPIPE_*
// environment overrides, applies pipeline defaults for unset fields, and
// validates the result.  It returns a fully-populated *Config or a
// descriptive error.
func LoadDir(dir string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(filepath.Join(dir, baseFile))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", baseFile, err)
	}

	// The remaining files are optional; a missing file leaves its section empty.
	for _, name := range []string{agentsFile, databasesFile, producersFile} {
		v.SetConfigFile(filepath.Join(dir, name))
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				continue
			}
			if isNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: failed to read %s: %w", name, err)
		}
	}

	return unmarshalAndFinalize(v)
}

// unmarshalAndFinalize unmarshals viper state into a Config struct, applies
// defaults, and validates the result.
func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Watch monitors the base file in dir for changes and invokes onChange with
// the newly parsed app section whenever the file is modified on disk.  It is
// intended for hot-reloading non-critical settings — in practice the log
// level; structural changes (agents, databases, producers) require a restart.
//
// Watch is non-blocking; it starts a background goroutine managed by viper.
// If the changed file fails to parse, onChange is not called.
func Watch(dir string, onChange func(AppConfig)) {
	v := newViper()
	v.SetConfigFile(filepath.Join(dir, baseFile))

	// Initial read — errors are ignored here; callers must call LoadDir first.
	_ = v.ReadInConfig()

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return
		}
		ApplyDefaults(cfg)
		onChange(cfg.App)
	})
}

// MustLoadDir is a convenience wrapper around LoadDir that panics on any
// error.  It is intended for use in main() where a config-load failure is
// always fatal.
func MustLoadDir(dir string) *Config {
	cfg, err := LoadDir(dir)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoadDir failed: %v", err))
	}
	return cfg
}

// isNotExist reports whether err indicates a missing file, covering both
// viper's typed error and the raw fs error surfaced by SetConfigFile.
func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file") ||
		strings.Contains(err.Error(), "cannot find the file")
}
