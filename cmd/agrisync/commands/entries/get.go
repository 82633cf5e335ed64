package entries

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/agrisync/cmd/agrisync/cmdutil"
	"github.com/marmos91/agrisync/internal/cli/output"
	"github.com/marmos91/agrisync/pkg/apiclient"
)

var getRaw bool

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read one entry from the local store",
	Long: `Read an entry without touching the network. A missing or stale entry
makes the daemon queue a refresh; its operation id is printed.

Examples:
  # Show the entry metadata
  agrisync entries get weather:pune

  # Print only the payload (e.g. to pipe into jq)
  agrisync entries get weather:pune --raw`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().BoolVar(&getRaw, "raw", false, "Write only the payload to stdout")
}

func runGet(cmd *cobra.Command, args []string) error {
	client := cmdutil.GetClient()

	res, err := client.Read(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to read entry: %w", cmdutil.DescribeError(err))
	}
	return printReadResult(res, getRaw)
}

// printReadResult prints a read or fetch result. raw writes the payload
// bytes only.
func printReadResult(res *apiclient.ReadResult, raw bool) error {
	if !res.Found {
		if res.RefreshID != 0 {
			cmdutil.PrintWarning(fmt.Sprintf("%s is not cached; refresh queued as operation %d", res.Key, res.RefreshID))
		}
		return fmt.Errorf("entry not found: %s", res.Key)
	}

	if raw {
		_, err := os.Stdout.Write(res.Entry.Payload)
		return err
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return cmdutil.PrintResource(os.Stdout, res, nil)
	}

	pairs := entryPairs(res.Entry)
	if res.RefreshID != 0 {
		pairs = append(pairs, [2]string{"Refresh queued", fmt.Sprintf("operation %d", res.RefreshID)})
	}
	pairs = append(pairs, [2]string{"Payload", string(res.Entry.Payload)})
	return output.SimpleTable(os.Stdout, pairs)
}
