package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. IRONSESSION_BASE_URL.
const EnvPrefix = "IRONSESSION"

// NewViper returns a viper instance with defaults and environment bindings
// applied. When configFile is empty the standard locations are searched for
// ironsession.yaml or ironsession.yml.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// No search paths, so ReadInConfig reports ConfigFileNotFoundError.
		v.SetConfigName("ironsession")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults() {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	return v
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{"."}
	if home != "" {
		paths = append(paths, filepath.Join(home, ".ironsession"))
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first ironsession.yaml or .yml found in
// paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "ironsession"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Load reads the config file if there is one, applies environment and flag
// overrides bound to v, and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	dir, err := expandHome(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	cfg.Storage.Dir = dir
	if cfg.Storage.KeyFile == "" {
		if dir != "" {
			cfg.Storage.KeyFile = filepath.Join(dir, "session.key")
		}
	} else if cfg.Storage.KeyFile, err = expandHome(cfg.Storage.KeyFile); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
