package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/blinkauth/internal/config"
	"github.com/spf13/cobra"
)

var (
	// cfgPath points at an optional YAML or TOML config file
	cfgPath  string
	logLevel string
	devLog   bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "blinkauth",
	Short:   "Blink-gated face authentication for webcam kiosks",
	Version: Version, // This enables the --version flag
	// Errors are printed once by Execute.
	SilenceErrors: true,
	SilenceUsage:  true,
}

// reportedError has already been shown to the user in an error box.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error { return e.error }

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var shown reportedError
		if !errors.As(err, &shown) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration for cmd: defaults, .env,
// the config file, environment variables, then explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("dev-log") {
		cfg.Logging.Development = devLog
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to a .yaml or .toml config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev-log", false, "Human-readable development logging")
}
