package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

var (
	postRequester  string
	postType       string
	postInput      string
	postOutputSpec string
	postBounty     int64
	postDeadline   time.Duration
)

func init() {
	postCmd.Flags().StringVar(&postRequester, "requester", "", "requester account address")
	postCmd.Flags().StringVar(&postType, "type", "INFERENCE", "task type (INFERENCE | RENDER | BATCH)")
	postCmd.Flags().StringVar(&postInput, "input", "", "input reference")
	postCmd.Flags().StringVar(&postOutputSpec, "output-spec", "", "expected output specification")
	postCmd.Flags().Int64Var(&postBounty, "bounty", 0, "bounty in milli-credits")
	postCmd.Flags().DurationVar(&postDeadline, "deadline", time.Hour, "time until the task expires")
	postCmd.MarkFlagRequired("requester")
	postCmd.MarkFlagRequired("bounty")
	rootCmd.AddCommand(postCmd)
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Post a task with an escrowed bounty",
	RunE:  runPost,
}

func runPost(cmd *cobra.Command, args []string) error {
	spec := domain.TaskSpec{
		Requester:  postRequester,
		Type:       domain.TaskType(postType),
		InputRef:   postInput,
		OutputSpec: postOutputSpec,
		Bounty:     postBounty,
		Deadline:   time.Now().Add(postDeadline),
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := postJSON("/api/tasks", spec, &resp); err != nil {
		return err
	}
	fmt.Printf("Posted task %s (bounty %s)\n", resp.ID, credits(postBounty))
	return nil
}
