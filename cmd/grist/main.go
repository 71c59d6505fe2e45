package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gristmill-dev/grist/internal/config"
	"github.com/gristmill-dev/grist/internal/errors"
	"github.com/gristmill-dev/grist/pkg/grist"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configDir string
	logLevel  string
	logFormat string
	noColor   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "grist",
		Short: "Load and inspect shared, change-aware values",
		Long: `grist exercises the grist shared-ownership primitive.

  • bench   hammers a shared counter and checks every invariant
  • serve   exposes metrics and a live version feed for a demo counter
  • version prints build information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configDir, "config", "c", ".", "Directory containing "+config.ConfigFileName)
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from "+config.ConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format: text or json (default from "+config.ConfigFileName+")")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored error output")

	rootCmd.AddCommand(
		benchCmd(&flags),
		serveCmd(&flags),
		versionCmd(),
	)

	return rootCmd
}

// loadConfig reads grist.json, applies command-line overrides, validates
// the result and installs the logger and grist debug defaults.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.noColor {
		errors.DisableColors()
	}

	cfg, err := config.LoadOrDefault(flags.configDir)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	grist.Debug = grist.DebugConfig{
		TrackBorrows:     cfg.Debug.TrackBorrows,
		DetectReentrancy: cfg.Debug.DetectReentrancy,
		PanicOnMisuse:    cfg.Debug.PanicOnMisuse,
		Logger:           logger.With("component", "grist"),
	}

	return cfg, nil
}

func newLogger(c config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
