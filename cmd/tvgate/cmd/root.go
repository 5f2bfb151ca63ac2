// Package cmd implements the CLI commands for tvgate.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tvgate/tvgate/internal/config"
	"github.com/tvgate/tvgate/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "tvgate",
	Short:   "Aggregating IPTV playlist reverse proxy",
	Version: version.Short(),
	Long: `tvgate fetches M3U playlists from multiple upstream providers, merges
and deduplicates their channels into one combined playlist, and relays
the selected channel streams to clients.

Clients authenticate through stateless signed tokens embedded in the
playlist URLs, so any number of players can share one configured user.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/tvgate, $HOME/.tvgate)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// loadConfig loads configuration and applies explicitly set flags on
// top, preserving the priority CLI flag > env var > config file >
// default.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if f := flags.Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = f.Value.String()
	}
	if f := flags.Lookup("log-format"); f != nil && f.Changed {
		cfg.Logging.Format = f.Value.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
