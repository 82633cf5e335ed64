package commands

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/agrisync/cmd/agrisync/cmdutil"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <target>...",
	Short: "Queue a refresh of keys or categories",
	Long: `Queue remote refreshes. A target is either a key ("weather:pune") or a
whole category ("category:weather"). The call returns at once; the daemon
drains the queue when connectivity allows.

Examples:
  # Refresh one key
  agrisync refresh price:onion:nashik

  # Refresh every scheme and weather entry
  agrisync refresh category:scheme category:weather`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRefresh,
}

// refreshRow is one queued refresh.
type refreshRow struct {
	Target      string `json:"target"`
	OperationID uint64 `json:"operation_id"`
}

// RefreshList is a list of queued refreshes for table rendering.
type RefreshList []refreshRow

// Headers implements TableRenderer.
func (rl RefreshList) Headers() []string {
	return []string{"TARGET", "OPERATION"}
}

// Rows implements TableRenderer.
func (rl RefreshList) Rows() [][]string {
	rows := make([][]string, 0, len(rl))
	for _, r := range rl {
		rows = append(rows, []string{r.Target, strconv.FormatUint(r.OperationID, 10)})
	}
	return rows
}

func runRefresh(cmd *cobra.Command, args []string) error {
	client := cmdutil.GetClient()

	ops, err := client.Refresh(cmd.Context(), args...)
	if err != nil {
		return fmt.Errorf("failed to queue refresh: %w", cmdutil.DescribeError(err))
	}

	rows := make(RefreshList, 0, len(ops))
	for target, id := range ops {
		rows = append(rows, refreshRow{Target: target, OperationID: id})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OperationID < rows[j].OperationID })

	return cmdutil.PrintOutput(os.Stdout, rows, len(rows) == 0, "Nothing queued.", rows)
}
