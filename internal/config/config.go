// Package config loads ironsession settings from a YAML file, IRONSESSION_
// environment variables and command line flags.
package config

import (
	"time"

	"github.com/jmcleod/ironsession/transport"
)

// Config is the top-level ironsession configuration.
type Config struct {
	// BaseURL is the backend the client talks to.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	// Timeout bounds one logical call, including any refresh and replay.
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" mapstructure:"refresh_timeout" validate:"gt=0"`

	// SessionTTL applies when the backend omits expires_in.
	SessionTTL   time.Duration `yaml:"session_ttl" mapstructure:"session_ttl" validate:"gt=0"`
	SafetyWindow time.Duration `yaml:"safety_window" mapstructure:"safety_window" validate:"gte=0"`

	LogLevel  string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"oneof=text json"`

	// ExcludedEndpoints are path fragments that never trigger a refresh.
	ExcludedEndpoints []string `yaml:"excluded_endpoints" mapstructure:"excluded_endpoints" validate:"dive,startswith=/"`

	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Keepalive KeepaliveConfig `yaml:"keepalive" mapstructure:"keepalive"`
}

// StorageConfig selects where the sealed session is persisted.
type StorageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory bbolt file redis"`

	// Dir holds the bbolt database, file records and the key material.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`

	// KeyFile defaults to <dir>/session.key. Ignored when Passphrase is set.
	KeyFile string `yaml:"key_file" mapstructure:"key_file"`

	// Passphrase derives the master key with Argon2id instead of a key file.
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`

	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// KeepaliveConfig drives the keepalive command.
type KeepaliveConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval" validate:"gt=0"`

	// MetricsAddr serves /metrics and /health when set.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Defaults.
const (
	DefaultBaseURL           = "http://localhost:8000"
	DefaultTimeout           = 15 * time.Second
	DefaultRefreshTimeout    = 15 * time.Second
	DefaultSessionTTL        = 15 * time.Minute
	DefaultSafetyWindow      = 30 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultStorageBackend    = "bbolt"
	DefaultStorageDir        = "~/.ironsession"
	DefaultKeepaliveInterval = time.Minute
)

func defaults() map[string]any {
	return map[string]any{
		"base_url":               DefaultBaseURL,
		"timeout":                DefaultTimeout,
		"refresh_timeout":        DefaultRefreshTimeout,
		"session_ttl":            DefaultSessionTTL,
		"safety_window":          DefaultSafetyWindow,
		"log_level":              DefaultLogLevel,
		"log_format":             DefaultLogFormat,
		"excluded_endpoints":     transport.DefaultExcludedEndpoints,
		"storage.backend":        DefaultStorageBackend,
		"storage.dir":            DefaultStorageDir,
		"storage.key_file":       "",
		"storage.passphrase":     "",
		"storage.redis.addr":     "",
		"storage.redis.password": "",
		"storage.redis.db":       0,
		"storage.redis.prefix":   "ironsession",
		"keepalive.interval":     DefaultKeepaliveInterval,
		"keepalive.metrics_addr": "",
	}
}
