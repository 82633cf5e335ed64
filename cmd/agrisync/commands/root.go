// Package commands implements the agrisync CLI: the sync daemon and the
// client commands that talk to its local API.
package commands

import (
	"github.com/marmos91/agrisync/cmd/agrisync/cmdutil"
	"github.com/marmos91/agrisync/cmd/agrisync/commands/config"
	"github.com/marmos91/agrisync/cmd/agrisync/commands/entries"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "agrisync",
	Short: "agrisync - offline cache and sync engine for field apps",
	Long: `agrisync keeps scheme, price, weather, advice and profile data usable
on devices with poor connectivity. It stores entries locally under a storage
budget, serves reads offline, and drains queued remote fetches whenever the
link allows.

Run the daemon with "agrisync start" and inspect it with the client
commands (status, entries, refresh, operations, delete-user-data).

Use "agrisync [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cmdutil.Flags.ConfigFile, "config", "", "config file (default: $XDG_CONFIG_HOME/agrisync/config.yaml)")
	flags.StringVar(&cmdutil.Flags.ServerURL, "server", "", "API server URL (default: from the config file, else http://localhost:7070)")
	flags.StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	flags.BoolVar(&cmdutil.Flags.NoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(entries.Cmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(operationsCmd)
	rootCmd.AddCommand(deleteUserDataCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cmdutil.Flags.ConfigFile
}
