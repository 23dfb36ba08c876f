package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadConfig loads and validates the service configuration.
//
// Steps, in order:
//  1. Enforce UTC process-wide. Every effective-date comparison in the
//     lifecycle engine assumes UTC; allowing a host timezone to leak in
//     would shift sweep cutoffs.
//  2. Load a .env file if present (non-fatal if missing; never overrides
//     variables already set in the environment).
//  3. Process envconfig tags to populate the Config struct.
//  4. Validate the populated struct with go-playground/validator.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment configuration: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct-tag validation and returns a readable error listing
// every failed field rather than stopping at the first.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("validating configuration: %w", err)
		}
		msg := "invalid configuration:"
		for _, fe := range verrs {
			msg += fmt.Sprintf(" %s (failed %q);", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
