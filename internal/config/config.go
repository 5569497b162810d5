// Package config loads the daemon's TOML configuration and resolves the
// environment it runs in.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// ///////////////////////////////////////////////
// Environment
// ///////////////////////////////////////////////

// DefaultEnvironment is used when neither a flag nor any of EnvVars is set.
const DefaultEnvironment = "development"

// EnvVars lists the variables consulted for the environment, in precedence order.
// APP_ENV is preferred; RAILS_ENV and RACK_ENV are honoured for older deployments.
var EnvVars = []string{"APP_ENV", "RAILS_ENV", "RACK_ENV"}

// ResolveEnvironment returns explicit when it is non-empty, otherwise the value of
// the first non-empty variable in EnvVars, otherwise DefaultEnvironment. A nil
// lookup reads the process environment.
func ResolveEnvironment(explicit string, lookup func(string) (string, bool)) string {
	if explicit != "" {
		return explicit
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}

	for _, name := range EnvVars {
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
	}

	return DefaultEnvironment
}

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config is the top-level configuration file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Daemon  DaemonConfig  `toml:"daemon"`
}

// ServerConfig configures the worker server.
type ServerConfig struct {
	// RedisURL is a redis:// or rediss:// URL of the queue backend.
	RedisURL string `toml:"redis_url"`
	// Namespace prefixes every queue key.
	Namespace string `toml:"namespace"`
	// Queues are polled in order; earlier queues win when several have jobs.
	Queues []string `toml:"queues"`
	// Concurrency is the number of processor goroutines.
	Concurrency int `toml:"concurrency"`
	// PollTimeout bounds a single blocking fetch, and so how long a processor
	// keeps running after a stop request while idle.
	PollTimeout Duration `toml:"poll_timeout"`
}

type LogConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `toml:"addr"`
}

type DaemonConfig struct {
	PIDFile       string   `toml:"pidfile"`
	DumpPath      string   `toml:"dump_path"`
	ShutdownGrace Duration `toml:"shutdown_grace"`
}

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ///////////////////////////////////////////////
// Defaults and Loading
// ///////////////////////////////////////////////

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			RedisURL:    "redis://127.0.0.1:6379/0",
			Namespace:   "lowkiq",
			Queues:      []string{"default"},
			Concurrency: 5,
			PollTimeout: Duration{2 * time.Second},
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
		Daemon: DaemonConfig{
			ShutdownGrace: Duration{5 * time.Second},
		},
	}
}

// Load reads the file at path over Default. An empty path returns the defaults.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return cfg, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "validate config %s", path)
	}

	return cfg, nil
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fail": true,
}

// Validate checks that all values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.RedisURL == "" {
		return errors.New("server.redis_url must be set")
	}

	if len(c.Server.Queues) == 0 {
		return errors.New("server.queues must list at least one queue")
	}
	for _, q := range c.Server.Queues {
		if strings.TrimSpace(q) == "" {
			return errors.New("server.queues must not contain empty names")
		}
	}

	if c.Server.Concurrency <= 0 {
		return fmt.Errorf("server.concurrency must be > 0, got %d", c.Server.Concurrency)
	}

	if c.Server.PollTimeout.Duration < time.Second {
		return fmt.Errorf("server.poll_timeout must be >= 1s, got %s", c.Server.PollTimeout)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, error or fail", c.Log.Level)
	}

	if c.Log.MaxSizeMB < 0 {
		return fmt.Errorf("log.max_size_mb must be >= 0, got %d", c.Log.MaxSizeMB)
	}

	if c.Daemon.ShutdownGrace.Duration < 0 {
		return fmt.Errorf("daemon.shutdown_grace must be >= 0, got %s", c.Daemon.ShutdownGrace)
	}

	return nil
}
