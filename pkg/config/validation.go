package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/agrisync/internal/telemetry"
	"github.com/marmos91/agrisync/pkg/cache"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags cannot express.
// Errors name the offending field and the failed rule (for example "oneof"
// or "max").
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q validation (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	for name := range cfg.Categories {
		if _, err := cache.ParseCategory(name); err != nil {
			return fmt.Errorf("categories: %w", err)
		}
	}
	for name := range cfg.Providers.Routes {
		if _, err := cache.ParseCategory(name); err != nil {
			return fmt.Errorf("providers.routes: %w", err)
		}
	}

	if cfg.Telemetry.Profiling.Enabled {
		if _, err := telemetry.ParseProfileTypes(cfg.Telemetry.Profiling.ProfileTypes); err != nil {
			return fmt.Errorf("telemetry.profiling.profile_types: %w", err)
		}
	}

	if cfg.Connectivity.Mode == "probe" {
		if err := checkURL(cfg.Connectivity.ProbeURL); err != nil {
			return fmt.Errorf("connectivity.probe_url: %w", err)
		}
	}

	if cfg.usesProvider("http") {
		if err := checkURL(cfg.Providers.HTTP.BaseURL); err != nil {
			return fmt.Errorf("providers.http.base_url: %w", err)
		}
	}
	if cfg.usesProvider("s3") && cfg.Providers.S3.Bucket == "" {
		return errors.New("providers.s3.bucket: required when the s3 provider is used")
	}

	return nil
}

// usesProvider reports whether the default or any route selects name.
func (cfg *Config) usesProvider(name string) bool {
	if cfg.Providers.Default == name {
		return true
	}
	for _, p := range cfg.Providers.Routes {
		if p == name {
			return true
		}
	}
	return false
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
