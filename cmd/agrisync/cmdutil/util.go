// Package cmdutil provides shared utilities for agrisync client commands.
package cmdutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/agrisync/internal/cli/output"
	"github.com/marmos91/agrisync/internal/cli/prompt"
	"github.com/marmos91/agrisync/pkg/apiclient"
	"github.com/marmos91/agrisync/pkg/config"
)

// DefaultServerURL is used when neither --server nor a config file names the
// API address.
const DefaultServerURL = "http://localhost:7070"

// ServerEnv overrides the server URL when --server is not given.
const ServerEnv = "AGRISYNC_SERVER"

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	ServerURL  string
	Output     string
	NoColor    bool
}

// ResolveServerURL picks the API address: the --server flag, then
// AGRISYNC_SERVER, then the api section of the config file, then the default.
func ResolveServerURL() string {
	if Flags.ServerURL != "" {
		return Flags.ServerURL
	}
	if env := os.Getenv(ServerEnv); env != "" {
		return env
	}

	path := Flags.ConfigFile
	if path == "" && config.DefaultConfigExists() {
		path = config.GetDefaultConfigPath()
	}
	if path != "" {
		if cfg, err := config.Load(path); err == nil {
			return cfg.API.URL()
		}
	}
	return DefaultServerURL
}

// GetClient returns an API client for the resolved server URL.
func GetClient() *apiclient.Client {
	return apiclient.New(ResolveServerURL())
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// IsColorDisabled returns whether color output is disabled.
func IsColorDisabled() bool {
	return Flags.NoColor
}

// PrintOutput prints data in the selected format. For table format it
// prints emptyMsg when isEmpty is set, otherwise the table.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, table output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}
	return output.Write(w, format, data, func(w io.Writer) error {
		if isEmpty {
			_, err := fmt.Fprintln(w, emptyMsg)
			return err
		}
		return output.PrintTable(w, table)
	})
}

// PrintResource prints a single resource in the selected format. For table
// format it prints the name/value pairs.
func PrintResource(w io.Writer, data any, pairs [][2]string) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}
	return output.Write(w, format, data, func(w io.Writer) error {
		return output.SimpleTable(w, pairs)
	})
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(msg string) {
	if format, err := GetOutputFormatParsed(); err == nil && format == output.FormatTable {
		output.NewPrinter(os.Stdout, !IsColorDisabled()).Success(msg)
	}
}

// PrintWarning prints a warning to stderr if the output format is table.
func PrintWarning(msg string) {
	if format, err := GetOutputFormatParsed(); err == nil && format == output.FormatTable {
		output.NewPrinter(os.Stderr, !IsColorDisabled()).Warning(msg)
	}
}

// RunDeleteWithConfirmation prompts for confirmation (unless force is true) and runs deleteFn.
func RunDeleteWithConfirmation(label string, force bool, deleteFn func() error) error {
	confirmed, err := prompt.ConfirmWithForce(label, force)
	if err != nil {
		return HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}
	return deleteFn()
}

// HandleAbort checks if error is an abort (Ctrl+C) and prints a message.
// Returns nil for abort (user cancelled), otherwise returns the original error.
func HandleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}

// DescribeError turns API errors into a message that names the error code.
// A refused connection suggests starting the daemon.
func DescribeError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error(), apiErr.Code)
		}
		return apiErr
	}
	if strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("%w\n\nIs the daemon running? Start it with: agrisync start", err)
	}
	return err
}

// ParseCommaSeparatedList parses a comma-separated string into a slice of trimmed strings.
func ParseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// BoolToYesNo converts a boolean to "yes" or "no" string.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EmptyOr returns the value if not empty, otherwise returns the fallback.
// Useful for table display where empty fields should show "-".
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Bytes formats a byte count for tables, e.g. "1.5 MiB".
func Bytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// Budget formats a budget, where zero means unlimited.
func Budget(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return Bytes(n)
}
