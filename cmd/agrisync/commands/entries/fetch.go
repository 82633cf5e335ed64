package entries

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/agrisync/cmd/agrisync/cmdutil"
)

var (
	fetchTimeout time.Duration
	fetchRaw     bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <key>",
	Short: "Fetch an entry from the remote provider now",
	Long: `Ask the daemon to fetch an entry right away and wait for the result.
If the wait times out the operation stays queued and is retried by the
background drain.

Examples:
  # Fetch with the daemon's default timeout
  agrisync entries fetch price:onion:nashik

  # Wait at most five seconds
  agrisync entries fetch weather:pune --timeout 5s`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 0, "Maximum wait (default: the daemon's fetch timeout)")
	fetchCmd.Flags().BoolVar(&fetchRaw, "raw", false, "Write only the payload to stdout")
}

func runFetch(cmd *cobra.Command, args []string) error {
	client := cmdutil.GetClient()
	if fetchTimeout > 0 {
		// The daemon answers shortly after its own deadline.
		client = client.WithTimeout(fetchTimeout + 5*time.Second)
	}

	res, err := client.Fetch(cmd.Context(), args[0], fetchTimeout)
	if err != nil {
		return fmt.Errorf("failed to fetch entry: %w", cmdutil.DescribeError(err))
	}
	return printReadResult(res, fetchRaw)
}
