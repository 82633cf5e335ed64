package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/agrisync/cmd/agrisync/cmdutil"
	"github.com/marmos91/agrisync/internal/cli/timeutil"
	"github.com/marmos91/agrisync/pkg/apiclient"
)

var operationsCmd = &cobra.Command{
	Use:     "operations",
	Aliases: []string{"ops", "queue"},
	Short:   "List queued remote operations",
	Long: `List the operations waiting in the sync queue, including permanently
failed ones that are kept for inspection.

Examples:
  agrisync operations
  agrisync ops -o yaml`,
	RunE: runOperations,
}

// OperationList is a list of operations for table rendering.
type OperationList []apiclient.Operation

// Headers implements TableRenderer.
func (ol OperationList) Headers() []string {
	return []string{"ID", "KIND", "TARGET", "STATUS", "ATTEMPTS", "NEXT ATTEMPT", "LAST ERROR"}
}

// Rows implements TableRenderer.
func (ol OperationList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(ol))
	for _, op := range ol {
		target := op.TargetKey
		if target == "" {
			target = "category:" + op.Category
		}
		rows = append(rows, []string{
			strconv.FormatUint(op.ID, 10),
			op.Kind,
			target,
			op.Status,
			strconv.Itoa(op.AttemptCount),
			nextAttempt(op, now),
			cmdutil.EmptyOr(op.LastError, "-"),
		})
	}
	return rows
}

// nextAttempt is "-" for operations that will not be retried.
func nextAttempt(op apiclient.Operation, now time.Time) string {
	if op.Status == "failed-permanent" {
		return "-"
	}
	return timeutil.FormatDue(op.NextAttemptAt, now)
}

func runOperations(cmd *cobra.Command, args []string) error {
	client := cmdutil.GetClient()

	ops, err := client.Operations(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list operations: %w", cmdutil.DescribeError(err))
	}

	list := OperationList(ops)
	return cmdutil.PrintOutput(os.Stdout, list, len(list) == 0, "No queued operations.", list)
}
