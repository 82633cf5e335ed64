package config

import (
	"github.com/marmos91/agrisync/internal/cli/output"
	"github.com/marmos91/agrisync/pkg/config"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective agrisync configuration, with defaults and
AGRISYNC_* environment overrides applied.

Outputs YAML unless --output json is given.

Examples:
  # Show config as YAML
  agrisync config show

  # Show as JSON
  agrisync config show --output json

  # Show specific config file
  agrisync config show --config /etc/agrisync/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	outputFlag, _ := cmd.Flags().GetString("output")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(outputFlag)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
