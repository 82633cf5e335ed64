package cmdutil

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/agrisync/pkg/apiclient"
	"github.com/marmos91/agrisync/pkg/config"
)

type pairList [][2]string

func (p pairList) Headers() []string { return []string{"Name", "Value"} }

func (p pairList) Rows() [][]string {
	rows := make([][]string, 0, len(p))
	for _, kv := range p {
		rows = append(rows, []string{kv[0], kv[1]})
	}
	return rows
}

// withFlags replaces the global flags for the duration of a test.
func withFlags(t *testing.T, f GlobalFlags) {
	t.Helper()
	saved := *Flags
	*Flags = f
	t.Cleanup(func() { *Flags = saved })
}

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single item", input: "weather:pune", expected: []string{"weather:pune"}},
		{name: "multiple items", input: "price,weather", expected: []string{"price", "weather"}},
		{name: "items with spaces", input: "price , weather ", expected: []string{"price", "weather"}},
		{name: "empty items filtered out", input: "price,,weather,", expected: []string{"price", "weather"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseCommaSeparatedList(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("ParseCommaSeparatedList(%q) = %v, want %v", tt.input, result, tt.expected)
			}
			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("ParseCommaSeparatedList(%q)[%d] = %q, want %q", tt.input, i, v, tt.expected[i])
				}
			}
		})
	}
}

func TestBoolToYesNo(t *testing.T) {
	if got := BoolToYesNo(true); got != "yes" {
		t.Errorf("BoolToYesNo(true) = %q, want yes", got)
	}
	if got := BoolToYesNo(false); got != "no" {
		t.Errorf("BoolToYesNo(false) = %q, want no", got)
	}
}

func TestEmptyOr(t *testing.T) {
	if got := EmptyOr("", "-"); got != "-" {
		t.Errorf("EmptyOr(\"\", \"-\") = %q, want -", got)
	}
	if got := EmptyOr("timeout", "-"); got != "timeout" {
		t.Errorf("EmptyOr(\"timeout\", \"-\") = %q, want timeout", got)
	}
}

func TestBytesAndBudget(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"zero bytes", Bytes(0), "0 B"},
		{"kibibytes", Bytes(1536), "1.5 KiB"},
		{"mebibytes", Bytes(64 << 20), "64 MiB"},
		{"unlimited budget", Budget(0), "unlimited"},
		{"budget", Budget(1 << 20), "1.0 MiB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestResolveServerURL(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(ServerEnv, "http://env:1")
		withFlags(t, GlobalFlags{ServerURL: "http://flag:2"})
		if got := ResolveServerURL(); got != "http://flag:2" {
			t.Errorf("ResolveServerURL() = %q, want http://flag:2", got)
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(ServerEnv, "http://env:1")
		withFlags(t, GlobalFlags{})
		if got := ResolveServerURL(); got != "http://env:1" {
			t.Errorf("ResolveServerURL() = %q, want http://env:1", got)
		}
	})

	t.Run("config file", func(t *testing.T) {
		t.Setenv(ServerEnv, "")
		cfg := config.GetDefaultConfig()
		cfg.API.Port = 9191
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := config.SaveConfig(cfg, path); err != nil {
			t.Fatalf("SaveConfig() error = %v", err)
		}

		withFlags(t, GlobalFlags{ConfigFile: path})
		if got := ResolveServerURL(); got != "http://127.0.0.1:9191" {
			t.Errorf("ResolveServerURL() = %q, want http://127.0.0.1:9191", got)
		}
	})

	t.Run("default", func(t *testing.T) {
		t.Setenv(ServerEnv, "")
		withFlags(t, GlobalFlags{})
		if got := ResolveServerURL(); got != DefaultServerURL {
			t.Errorf("ResolveServerURL() = %q, want %q", got, DefaultServerURL)
		}
	})
}

func TestPrintOutput(t *testing.T) {
	data := pairList{{"weather:pune", "12"}}

	t.Run("table", func(t *testing.T) {
		withFlags(t, GlobalFlags{Output: "table"})
		var buf bytes.Buffer
		if err := PrintOutput(&buf, data, false, "No entries found.", data); err != nil {
			t.Fatalf("PrintOutput() error = %v", err)
		}
		if !strings.Contains(buf.String(), "NAME") || !strings.Contains(buf.String(), "weather:pune") {
			t.Errorf("unexpected table output: %q", buf.String())
		}
	})

	t.Run("empty table", func(t *testing.T) {
		withFlags(t, GlobalFlags{Output: "table"})
		var buf bytes.Buffer
		if err := PrintOutput(&buf, pairList{}, true, "No entries found.", pairList{}); err != nil {
			t.Fatalf("PrintOutput() error = %v", err)
		}
		if buf.String() != "No entries found.\n" {
			t.Errorf("output = %q, want empty message", buf.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		withFlags(t, GlobalFlags{Output: "json"})
		var buf bytes.Buffer
		if err := PrintOutput(&buf, data, false, "", data); err != nil {
			t.Fatalf("PrintOutput() error = %v", err)
		}
		if !strings.Contains(buf.String(), `"weather:pune"`) {
			t.Errorf("unexpected json output: %q", buf.String())
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		withFlags(t, GlobalFlags{Output: "xml"})
		if err := PrintOutput(&bytes.Buffer{}, data, false, "", data); err == nil {
			t.Error("PrintOutput() expected error for invalid format")
		}
	})
}

func TestDescribeError(t *testing.T) {
	if DescribeError(nil) != nil {
		t.Error("DescribeError(nil) should be nil")
	}

	apiErr := &apiclient.APIError{StatusCode: 504, Detail: "fetch of weather:pune timed out", Code: "timeout"}
	if got := DescribeError(apiErr).Error(); got != "fetch of weather:pune timed out (timeout)" {
		t.Errorf("DescribeError(apiErr) = %q", got)
	}

	refused := errors.New("dial tcp 127.0.0.1:7070: connect: connection refused")
	if got := DescribeError(refused).Error(); !strings.Contains(got, "agrisync start") {
		t.Errorf("DescribeError(refused) = %q, want start hint", got)
	}
}
