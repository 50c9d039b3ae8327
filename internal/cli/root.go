// Package cli implements the taskmesh command-line interface using
// Cobra. Each subcommand talks to a running node over its HTTP API,
// except serve, which starts the node itself.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskmesh",
	Short: "taskmesh — decentralized compute task marketplace node",
	Long: `taskmesh runs a compute marketplace node: post tasks with escrowed
bounties, claim and execute work, settle off-chain through payment
channels, and resolve disputes with randomly drawn verifiers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
