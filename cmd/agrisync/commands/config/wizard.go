package config

import (
	"fmt"
	"net/url"

	"github.com/marmos91/agrisync/internal/bytesize"
	"github.com/marmos91/agrisync/internal/cli/prompt"
	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/config"
)

// runWizard asks for the settings most deployments change and applies them
// to cfg.
func runWizard(cfg *config.Config) error {
	backend, err := prompt.Select("Storage backend", []prompt.SelectOption{
		{Label: "badger", Value: "badger", Description: "Embedded key-value store (recommended)"},
		{Label: "sqlite", Value: "sqlite", Description: "Single-file SQL database"},
		{Label: "memory", Value: "memory", Description: "No persistence, for testing"},
	}, cfg.Storage.Backend)
	if err != nil {
		return err
	}
	if backend != cfg.Storage.Backend {
		cfg.Storage.Backend = backend
		cfg.Storage.Path = ""
	}

	budget, err := prompt.Input("Storage budget", cfg.Storage.Budget.String(), func(s string) error {
		_, err := bytesize.ParseByteSize(s)
		return err
	})
	if err != nil {
		return err
	}
	if cfg.Storage.Budget, err = bytesize.ParseByteSize(budget); err != nil {
		return err
	}

	cfg.Providers.Default, err = prompt.Select("Default provider", []prompt.SelectOption{
		{Label: "http", Value: "http", Description: "REST data provider"},
		{Label: "s3", Value: "s3", Description: "Objects in an S3-compatible bucket"},
	}, cfg.Providers.Default)
	if err != nil {
		return err
	}

	switch cfg.Providers.Default {
	case "http":
		cfg.Providers.HTTP.BaseURL, err = prompt.Input("Provider base URL", cfg.Providers.HTTP.BaseURL, validateURL)
	case "s3":
		cfg.Providers.S3.Bucket, err = prompt.Input("S3 bucket", cfg.Providers.S3.Bucket, required)
	}
	if err != nil {
		return err
	}

	cfg.Connectivity.Mode, err = prompt.Select("Connectivity detection", []prompt.SelectOption{
		{Label: "static", Value: "static", Description: "Fixed link class"},
		{Label: "file", Value: "file", Description: "Read the class from a status file"},
		{Label: "probe", Value: "probe", Description: "Probe a URL periodically"},
	}, cfg.Connectivity.Mode)
	if err != nil {
		return err
	}

	switch cfg.Connectivity.Mode {
	case "file":
		cfg.Connectivity.StatusFile, err = prompt.Input("Status file", cfg.Connectivity.StatusFile, required)
	case "probe":
		cfg.Connectivity.ProbeURL, err = prompt.Input("Probe URL", cfg.Connectivity.ProbeURL, validateURL)
	}
	if err != nil {
		return err
	}

	return selectEncrypted(cfg)
}

// selectEncrypted asks which categories to encrypt at rest. The profile is
// always encrypted and is not offered.
func selectEncrypted(cfg *config.Config) error {
	defaults := cache.DefaultPolicies()

	var options []prompt.SelectOption
	var current []string
	for _, c := range cache.Categories {
		if c == cache.CategoryProfile {
			continue
		}
		options = append(options, prompt.SelectOption{Label: string(c), Value: string(c)})
		if defaults[c].Encrypt || cfg.Categories[string(c)].Encrypt {
			current = append(current, string(c))
		}
	}

	chosen, err := prompt.MultiSelect("Encrypt at rest", options, current)
	if err != nil {
		return err
	}

	for _, name := range chosen {
		if cfg.Categories == nil {
			cfg.Categories = make(map[string]config.CategoryConfig)
		}
		cc := cfg.Categories[name]
		cc.Encrypt = true
		cfg.Categories[name] = cc
	}
	return nil
}

func required(s string) error {
	if s == "" {
		return fmt.Errorf("value is required")
	}
	return nil
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("use an http or https URL")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
