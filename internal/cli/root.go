// Package cli implements the zerolock command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "zerolock",
	Short: "ZeroLock bug-bounty escrow daemon",
	Long: `ZeroLock escrows bug bounties. Companies lock a bounty against a deployed
target program; a hacker who drains the target past the attack threshold is
paid automatically, minus the platform fee.

Run 'zerolock serve' to start the daemon. The challenge, vault and dispute
commands talk to a running daemon over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config.toml (default $ZEROLOCK_HOME/config.toml)")
	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:7420", "Daemon address for client commands")
	rootCmd.PersistentFlags().String("as", "", "Identity to act as (sent in the "+callerHeader+" header)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
