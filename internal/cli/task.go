package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

func init() {
	rootCmd.AddCommand(taskCmd)
}

var taskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Show a task by ID (live or archived)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTask,
}

func runTask(cmd *cobra.Command, args []string) error {
	var t domain.Task
	if err := getJSON("/api/tasks/"+args[0], &t); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", t.ID)
	fmt.Fprintf(w, "Status\t%s\n", t.Status)
	fmt.Fprintf(w, "Type\t%s\n", t.Type)
	fmt.Fprintf(w, "Requester\t%s\n", t.Requester)
	fmt.Fprintf(w, "Bounty\t%s\n", credits(t.Bounty))
	fmt.Fprintf(w, "Deadline\t%s\n", t.Deadline.Format("2006-01-02 15:04:05"))
	if t.ClaimedBy != "" {
		fmt.Fprintf(w, "Claimed by\t%s\n", t.ClaimedBy)
	}
	if t.OutputHash != "" {
		fmt.Fprintf(w, "Output hash\t%s\n", t.OutputHash)
	}
	if t.VerificationMode != "" {
		fmt.Fprintf(w, "Verification\t%s\n", t.VerificationMode)
	}
	if !t.SettledAt.IsZero() {
		fmt.Fprintf(w, "Settled\t%s\n", t.SettledAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
