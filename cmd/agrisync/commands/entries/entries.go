// Package entries implements the cached entry subcommands.
package entries

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/agrisync/cmd/agrisync/cmdutil"
	"github.com/marmos91/agrisync/internal/cli/timeutil"
	"github.com/marmos91/agrisync/pkg/apiclient"
)

// Cmd is the entries subcommand.
var Cmd = &cobra.Command{
	Use:     "entries",
	Aliases: []string{"entry"},
	Short:   "Read and write cached entries",
	Long: `Inspect and modify the entries cached by the daemon.

Keys are namespaced by category, e.g. "weather:pune" or "price:onion:nashik".

Subcommands:
  list   List cached entries
  get    Read one entry from the local store
  put    Write an entry locally
  fetch  Fetch an entry from the remote provider now`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(putCmd)
	Cmd.AddCommand(fetchCmd)
}

// entryPairs renders the metadata of an entry for table output.
func entryPairs(e *apiclient.Entry) [][2]string {
	return [][2]string{
		{"Key", e.Key},
		{"Category", e.Category},
		{"Priority", strconv.Itoa(e.Priority)},
		{"Size", cmdutil.Bytes(e.SizeBytes)},
		{"Freshness", e.FreshnessWindow},
		{"Last synced", timeutil.FormatTime(e.LastSyncedAt)},
		{"Stale", cmdutil.BoolToYesNo(e.Stale)},
		{"Encrypted", cmdutil.BoolToYesNo(e.Encrypted)},
	}
}
