package config

import (
	"fmt"
	"os"

	"github.com/marmos91/agrisync/internal/cli/prompt"
	"github.com/marmos91/agrisync/pkg/config"
	"github.com/spf13/cobra"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with defaults",
	Long: `Write a configuration file holding every default value.

Examples:
  # Create config at the default location
  agrisync config init

  # Create config at a custom path, replacing an existing file
  agrisync config init --config /etc/agrisync/config.yaml --force

  # Answer a few questions instead of taking every default
  agrisync config init --interactive`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the main settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	if initInteractive {
		if err := runInteractiveInit(configPath); err != nil {
			if prompt.IsAborted(err) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "\nAborted.")
				return nil
			}
			return err
		}
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
	} else {
		var err error
		if configPath != "" {
			err = config.InitConfigToPath(configPath, initForce)
		} else {
			configPath, err = config.InitConfig(initForce)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Point providers.http.base_url at your data provider")
	_, _ = fmt.Fprintln(out, "  2. Adjust storage.budget to the space the device can spare")
	_, _ = fmt.Fprintf(out, "  3. Start the daemon with: agrisync start --config %s\n", configPath)
	return nil
}

func runInteractiveInit(path string) error {
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	cfg := config.GetDefaultConfig()
	if err := runWizard(cfg); err != nil {
		return err
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return config.SaveConfig(cfg, path)
}
