// Package cmd provides the livedoc command-line interface.
//
// Configuration is resolved from several sources, highest priority first:
//
//  1. Command-line flags (--port, --root, ...)
//  2. The file named by --config or LIVEDOC_CONFIG_FILE
//  3. LIVEDOC_<SECTION>_<KEY> environment variables, also read from .env
//  4. .livedoc.yml in the working directory
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/livedoc/internal/config"
	"github.com/conneroisu/livedoc/internal/logging"
)

var cfgFile string

// envKeys are bound explicitly so LIVEDOC_* variables reach Unmarshal even
// when no config file mentions the key.
var envKeys = []string{
	"server.host", "server.port", "server.allowed_origins", "server.environment",
	"content.roots", "content.extensions", "content.default_kind",
	"timing.ping_interval", "timing.stale_threshold", "timing.cursor_throttle",
	"timing.content_debounce", "timing.render_interval", "timing.autosave_interval",
	"timing.keepalive_interval", "timing.reconnect_delay",
	"logging.level", "logging.format",
}

var rootCmd = &cobra.Command{
	Use:   "livedoc",
	Short: "Live collaborative editing for markdown content",
	Long: `livedoc serves a content directory for live, multi-user editing.

Peers editing the same document share one room: edits merge without
conflicts, carets are relayed to everyone in the document, and the rendered
preview follows the text. Changes are autosaved to disk.

Quick Start:
  livedoc serve --root ./docs      Start the live editing server
  livedoc config show              Show the resolved configuration
  livedoc version                  Show build information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .livedoc.yml, or LIVEDOC_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().SetNormalizeFunc(normalizeFlagName)
	AddFlagValidation(rootCmd, "log-level", ValidateLogLevel)
	AddFlagValidation(rootCmd, "log-format", ValidateLogFormat)

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Ignoring .env:", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("LIVEDOC_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".livedoc")
	}

	viper.SetEnvPrefix("LIVEDOC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) logging.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}
