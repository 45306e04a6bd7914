// Package cli implements the relaybot command line.
package cli

import (
	"github.com/spf13/cobra"
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

// NewRootCmd builds the relaybot command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relaybot",
		Short: "Telegram relay to a generative model",
		Long: `relaybot forwards Telegram messages to a generative model together
with a short per-user conversation window and sends the reply back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "dotenv or YAML config file (default .env when present)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "log errors only")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewEventsCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// logLevel applies --verbose/--quiet over the configured level.
func logLevel(configured string) string {
	switch {
	case globalFlags.Verbose:
		return "debug"
	case globalFlags.Quiet:
		return "error"
	default:
		return configured
	}
}
