package entries

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

var listCategory string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached entries",
	Long: `List the metadata of cached entries. Payloads are not shown.

Examples:
  # List every entry
  agrisync entries list

  # List weather entries as JSON
  agrisync entries list --category weather -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listCategory, "category", "c", "", "Only list entries of this category")
}

// EntryList is a list of entries for table rendering.
type EntryList []apiclient.Entry

// Headers implements TableRenderer.
func (el EntryList) Headers() []string {
	return []string{"KEY", "CATEGORY", "PRIORITY", "SIZE", "LAST SYNCED", "STALE"}
}

// Rows implements TableRenderer.
func (el EntryList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(el))
	for _, e := range el {
		rows = append(rows, []string{
			e.Key,
			e.Category,
			strconv.Itoa(e.Priority),
			cmdutil.Bytes(e.SizeBytes),
			timeutil.FormatAge(e.LastSyncedAt, now),
			cmdutil.BoolToYesNo(e.Stale),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client := cmdutil.GetClient()

	entries, err := client.ListEntries(cmd.Context(), listCategory)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", cmdutil.DescribeError(err))
	}

	list := EntryList(entries)
	return cmdutil.PrintOutput(os.Stdout, list, len(list) == 0, "No entries found.", list)
}
