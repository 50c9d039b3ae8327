package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

var (
	registerStake int64
	registerCaps  []string
)

func init() {
	registerCmd.Flags().Int64Var(&registerStake, "stake", 10_000, "stake in milli-credits")
	registerCmd.Flags().StringSliceVar(&registerCaps, "cap", nil, "capability as type:speed:cost (repeatable)")
	rootCmd.AddCommand(registerCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register <address>",
	Short: "Register a worker, locking its stake",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegister,
}

func runRegister(cmd *cobra.Command, args []string) error {
	caps := make([]domain.Capability, 0, len(registerCaps))
	for _, spec := range registerCaps {
		c, err := parseCapability(spec)
		if err != nil {
			return err
		}
		caps = append(caps, c)
	}

	payload := map[string]any{
		"stake":        registerStake,
		"capabilities": caps,
	}
	if err := postJSON("/api/workers/"+args[0]+"/register", payload, nil); err != nil {
		return err
	}
	fmt.Printf("Registered %s with stake %s\n", args[0], credits(registerStake))
	return nil
}

// parseCapability parses "INFERENCE:1.5:100" into a capability.
func parseCapability(s string) (domain.Capability, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return domain.Capability{}, fmt.Errorf("capability %q: want type:speed:cost", s)
	}
	speed, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return domain.Capability{}, fmt.Errorf("capability %q: invalid speed: %w", s, err)
	}
	cost, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return domain.Capability{}, fmt.Errorf("capability %q: invalid cost: %w", s, err)
	}
	return domain.Capability{
		Type:            domain.TaskType(parts[0]),
		SpeedMultiplier: speed,
		CostPerUnit:     cost,
	}, nil
}
