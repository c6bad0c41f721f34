// Package cmd provides the ironsession command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmcleod/ironsession/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ironsession",
	Short: "ironsession keeps an authenticated backend session alive",
	Long: `ironsession signs in to the backend, keeps the session sealed on disk and
refreshes the access token when it expires.

Configuration is read from ironsession.yaml in the current directory or
$HOME/.ironsession/. Environment variables override it with the IRONSESSION_
prefix, for example IRONSESSION_BASE_URL=https://api.example.com.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./ironsession.yaml)")
	flags.String("base-url", "", "backend base URL")
	flags.String("data-dir", "", "directory for the sealed session and key material")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("storage", "", "storage backend: memory, bbolt, file or redis")
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"base-url":  "base_url",
	"data-dir":  "storage.dir",
	"log-level": "log_level",
	"storage":   "storage.backend",
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	v := config.NewViper(cfgFile)
	if err := bindFlags(v, cmd); err != nil {
		return err
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = newLogger(cfg, cmd.ErrOrStderr())
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("loaded config", "file", used)
	}
	return nil
}

// bindFlags overrides config keys with flags the user actually set.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

func newLogger(c *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
