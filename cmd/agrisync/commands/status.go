package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/agrisync/cmd/agrisync/cmdutil"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storage and queue status",
	Long: `Display the storage usage, budget, pending operations and link class
reported by the running daemon.

Examples:
  # Show status as a table
  agrisync status

  # Output as JSON
  agrisync status -o json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := cmdutil.GetClient()

	status, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", cmdutil.DescribeError(err))
	}

	usage := "-"
	if status.BudgetBytes > 0 {
		usage = fmt.Sprintf("%.1f%%", float64(status.UsedBytes)*100/float64(status.BudgetBytes))
	}

	return cmdutil.PrintResource(os.Stdout, status, [][2]string{
		{"Server", client.BaseURL()},
		{"Connectivity", status.Connectivity},
		{"Entries", strconv.Itoa(status.Entries)},
		{"Used", cmdutil.Bytes(status.UsedBytes)},
		{"Budget", cmdutil.Budget(status.BudgetBytes)},
		{"Usage", usage},
		{"Pending operations", strconv.Itoa(status.PendingOperations)},
	})
}
