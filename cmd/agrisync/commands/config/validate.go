package config

import (
	"fmt"
	"os"

	"github.com/marmos91/agrisync/internal/bytesize"
	"github.com/marmos91/agrisync/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the agrisync configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  agrisync config validate

  # Validate specific config file
  agrisync config validate --config /etc/agrisync/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Storage.Backend == "memory" {
		warnings = append(warnings, "memory backend: cached data is lost on restart")
	}
	if cfg.Storage.Budget > 0 && cfg.Storage.Budget < bytesize.MiB {
		warnings = append(warnings, "storage budget below 1Mi: most entries will be evicted")
	}
	if cfg.Encryption.PassphraseEnv != "" && os.Getenv(cfg.Encryption.PassphraseEnv) == "" {
		warnings = append(warnings, fmt.Sprintf("%s is not set: the daemon will refuse to start", cfg.Encryption.PassphraseEnv))
	}
	if !cfg.API.IsEnabled() {
		warnings = append(warnings, "API server disabled: client commands cannot reach the daemon")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Storage backend:   %s\n", cfg.Storage.Backend)
	_, _ = fmt.Fprintf(out, "  Storage budget:    %s\n", cfg.Storage.Budget)
	_, _ = fmt.Fprintf(out, "  Provider:          %s\n", cfg.Providers.Default)
	_, _ = fmt.Fprintf(out, "  Connectivity mode: %s\n", cfg.Connectivity.Mode)
	_, _ = fmt.Fprintf(out, "  API address:       %s\n", cfg.API.Addr())
	_, _ = fmt.Fprintf(out, "  Log level:         %s\n", cfg.Logging.Level)

	return nil
}
