package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(depositCmd)
}

var depositCmd = &cobra.Command{
	Use:   "deposit <address> <milli-credits>",
	Short: "Credit an account (local-mode stand-in for external funding)",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeposit,
}

func runDeposit(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[1])
	}

	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := postJSON("/api/accounts/"+args[0]+"/deposit", map[string]int64{"amount": amount}, &resp); err != nil {
		return err
	}
	fmt.Printf("Balance of %s: %s\n", args[0], credits(resp.Balance))
	return nil
}
