package entries

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/agrisync/cmd/agrisync/cmdutil"
	"github.com/marmos91/agrisync/pkg/apiclient"
)

var (
	putData      string
	putFile      string
	putPriority  int
	putFreshness time.Duration
	putEncrypt   bool
)

var putCmd = &cobra.Command{
	Use:   "put <key>",
	Short: "Write an entry locally",
	Long: `Write an entry to the local store. The entry counts as synced now.
Writing may evict lower-priority entries to stay within the storage budget.

Examples:
  # Write an inline payload
  agrisync entries put advice:wheat:rust --data '{"spray":"propiconazole"}'

  # Write a payload from a file, or from stdin with "-"
  agrisync entries put scheme:pm-kisan --file scheme.json
  cat profile.json | agrisync entries put profile:me --file - --encrypt`,
	Args: cobra.ExactArgs(1),
	RunE: runPut,
}

func init() {
	putCmd.Flags().StringVar(&putData, "data", "", "Payload given inline")
	putCmd.Flags().StringVar(&putFile, "file", "", "Read the payload from a file (- for stdin)")
	putCmd.Flags().IntVar(&putPriority, "priority", 0, "Eviction priority (default: category policy)")
	putCmd.Flags().DurationVar(&putFreshness, "freshness", 0, "Freshness window (default: category policy)")
	putCmd.Flags().BoolVar(&putEncrypt, "encrypt", false, "Encrypt the payload at rest")
	putCmd.MarkFlagsMutuallyExclusive("data", "file")
}

func readPayload() ([]byte, error) {
	switch putFile {
	case "":
		if putData == "" {
			return nil, fmt.Errorf("one of --data or --file is required")
		}
		return []byte(putData), nil
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(putFile)
	}
}

func runPut(cmd *cobra.Command, args []string) error {
	payload, err := readPayload()
	if err != nil {
		return err
	}

	req := &apiclient.WriteRequest{
		Payload:  payload,
		Priority: putPriority,
		Encrypt:  putEncrypt,
	}
	if putFreshness > 0 {
		req.FreshnessWindow = putFreshness.String()
	}

	client := cmdutil.GetClient()
	res, err := client.Write(cmd.Context(), args[0], req)
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", cmdutil.DescribeError(err))
	}

	pairs := entryPairs(&res.Entry)
	pairs = append(pairs,
		[2]string{"Used", cmdutil.Bytes(res.UsedBytes)},
		[2]string{"Budget", cmdutil.Budget(res.BudgetBytes)},
	)
	for _, key := range res.Evicted {
		pairs = append(pairs, [2]string{"Evicted", key})
	}
	if err := cmdutil.PrintResource(os.Stdout, res, pairs); err != nil {
		return err
	}

	if res.BudgetExceeded {
		cmdutil.PrintWarning("storage budget exceeded: only protected entries remain")
	} else {
		cmdutil.PrintSuccess(fmt.Sprintf("Entry '%s' written", res.Entry.Key))
	}
	return nil
}
