package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/mediabus/pkg/registry"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("sources: at least one source must be configured")
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("providers: at least one provider must be configured")
	}

	// Source names in a stable order so the first failure is deterministic
	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := validateSourceSection(name, cfg.Sources[name]); err != nil {
			return err
		}
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Providers {
		if err := registry.ValidateProviderName(p.Name); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if _, ok := cfg.Sources[p.Source]; !ok {
			return fmt.Errorf("providers[%d]: source %q is not configured", i, p.Source)
		}
		if _, err := ParseGenerations(p.Generations); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
	}

	return nil
}

// validateSourceSection checks the required keys of a source's type-specific
// section.
func validateSourceSection(name string, src SourceConfig) error {
	require := func(section map[string]any, key string) error {
		if v, ok := section[key]; !ok || v == "" || v == nil {
			return fmt.Errorf("sources.%s: %s.%s is required", name, src.Type, key)
		}
		return nil
	}

	switch src.Type {
	case "badger":
		if inMemory, _ := src.Badger["in_memory"].(bool); inMemory {
			return nil
		}
		return require(src.Badger, "db_path")
	case "filesystem":
		return require(src.Filesystem, "root")
	case "s3":
		if err := require(src.S3, "bucket"); err != nil {
			return err
		}
		return require(src.S3, "region")
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
