package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running node's marketplace statistics",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var stats struct {
		Tasks struct {
			Live           int   `json:"live"`
			Posted         int   `json:"posted"`
			Claimed        int   `json:"claimed"`
			Disputed       int   `json:"disputed"`
			EscrowedBounty int64 `json:"escrowed_bounty"`
		} `json:"tasks"`
		Channels struct {
			Open        int   `json:"open"`
			TotalLocked int64 `json:"total_locked"`
		} `json:"channels"`
		Disputes struct {
			Pending  int `json:"pending"`
			Rejected int `json:"rejected"`
		} `json:"disputes"`
		Workers struct {
			Workers    int   `json:"workers"`
			Banned     int   `json:"banned"`
			TotalStake int64 `json:"total_stake"`
		} `json:"workers"`
		Registry struct {
			Size int `json:"size"`
		} `json:"registry"`
		ArchivedTasks int64 `json:"archived_tasks"`
	}
	if err := getJSON("/api/stats", &stats); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SECTION\tDETAIL")
	fmt.Fprintf(w, "tasks\t%d live (%d posted, %d claimed, %d disputed), %s escrowed\n",
		stats.Tasks.Live, stats.Tasks.Posted, stats.Tasks.Claimed, stats.Tasks.Disputed,
		credits(stats.Tasks.EscrowedBounty))
	fmt.Fprintf(w, "channels\t%d open, %s locked\n",
		stats.Channels.Open, credits(stats.Channels.TotalLocked))
	fmt.Fprintf(w, "disputes\t%d pending, %d rejected\n",
		stats.Disputes.Pending, stats.Disputes.Rejected)
	fmt.Fprintf(w, "workers\t%d registered (%d banned), %s staked\n",
		stats.Workers.Workers, stats.Workers.Banned, credits(stats.Workers.TotalStake))
	fmt.Fprintf(w, "registry\t%d live announcements\n", stats.Registry.Size)
	fmt.Fprintf(w, "archive\t%d settled tasks\n", stats.ArchivedTasks)
	return w.Flush()
}

// credits formats milli-credits as a credit amount.
func credits(milli int64) string {
	return fmt.Sprintf("%d.%03d cr", milli/1000, milli%1000)
}
