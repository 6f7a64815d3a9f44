// Package main - ephemera operator CLI
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alwitt/ephemera"
	"github.com/alwitt/ephemera/config"
	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	envFiles []string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ephemera",
	Short: "Ephemera - self destructing notes and expiring albums.",
	Long: `Ephemera hosts encrypted text notes which self-destruct on a schedule or on
first read, and albums of files which expire after a number of days.

Configuration is read from EPHEMERA_* environment variables and an optional .env file.

Usage:
  ephemera <command> [flags]

Run 'ephemera help <command>' for more details on a specific command.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFiles...)
		if err != nil {
			return err
		}
		log.SetLevel(cfg.ApexLogLevel())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(
		&envFiles, "env-file", nil, "env files to load instead of ./.env",
	)
}

// openHost connect to the configured storage
func openHost(ctx context.Context, defineSchema bool) (*ephemera.Host, error) {
	host, err := ephemera.NewHostFromConfig(ctx, cfg, defineSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to start host: %w", err)
	}
	return host, nil
}

// closeHost release the host, reporting failures on stderr
func closeHost(cmd *cobra.Command, host *ephemera.Host) {
	if err := host.Close(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("✗")+" close failed: "+err.Error())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+err.Error())
		os.Exit(1)
	}
}
