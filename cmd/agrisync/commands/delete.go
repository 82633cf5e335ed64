package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/agrisync/cmd/agrisync/cmdutil"
	"github.com/marmos91/agrisync/internal/cli/prompt"
	"github.com/marmos91/agrisync/pkg/apiclient"
)

var (
	deleteKeys       string
	deleteCategories string
	deleteAll        bool
	deleteForce      bool
)

var deleteUserDataCmd = &cobra.Command{
	Use:   "delete-user-data",
	Short: "Delete cached user data",
	Long: `Delete cached entries and their queued operations. Deletion is
irreversible; in-flight syncs cannot re-create deleted entries.

Examples:
  # Delete two keys
  agrisync delete-user-data --keys profile:me,advice:wheat:rust

  # Delete every cached price
  agrisync delete-user-data --categories price

  # Delete everything without prompting
  agrisync delete-user-data --all --force`,
	RunE: runDeleteUserData,
}

func init() {
	deleteUserDataCmd.Flags().StringVar(&deleteKeys, "keys", "", "Comma-separated keys to delete")
	deleteUserDataCmd.Flags().StringVar(&deleteCategories, "categories", "", "Comma-separated categories to delete")
	deleteUserDataCmd.Flags().BoolVar(&deleteAll, "all", false, "Delete all cached data")
	deleteUserDataCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

func describeScope(scope apiclient.DeleteScope) string {
	if scope.All {
		return "ALL cached data"
	}
	var parts []string
	if len(scope.Keys) > 0 {
		parts = append(parts, "keys "+strings.Join(scope.Keys, ", "))
	}
	if len(scope.Categories) > 0 {
		parts = append(parts, "categories "+strings.Join(scope.Categories, ", "))
	}
	return strings.Join(parts, " and ")
}

func runDeleteUserData(cmd *cobra.Command, args []string) error {
	scope := apiclient.DeleteScope{
		Keys:       cmdutil.ParseCommaSeparatedList(deleteKeys),
		Categories: cmdutil.ParseCommaSeparatedList(deleteCategories),
		All:        deleteAll,
	}
	if !scope.All && len(scope.Keys) == 0 && len(scope.Categories) == 0 {
		return fmt.Errorf("nothing to delete: pass --keys, --categories or --all")
	}

	client := cmdutil.GetClient()
	label := fmt.Sprintf("Delete %s", describeScope(scope))

	if scope.All && !deleteForce {
		confirmed, err := prompt.ConfirmDanger(label, "delete")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}
		deleteForce = true
	}

	return cmdutil.RunDeleteWithConfirmation(label, deleteForce, func() error {
		report, err := client.DeleteUserData(cmd.Context(), scope)
		if err != nil {
			return fmt.Errorf("failed to delete user data: %w", cmdutil.DescribeError(err))
		}

		if err := cmdutil.PrintResource(os.Stdout, report, [][2]string{
			{"Entries deleted", strconv.Itoa(report.Entries)},
			{"Operations cancelled", strconv.Itoa(report.Operations)},
			{"Freed", cmdutil.Bytes(report.FreedBytes)},
			{"Duration", report.Duration.String()},
		}); err != nil {
			return err
		}
		cmdutil.PrintSuccess("User data deleted")
		return nil
	})
}
