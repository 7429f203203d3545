package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/vietddude/juror/internal/core/delay"
	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applying defaults for omitted fields.
func Parse(data []byte) (*AppConfig, error) {
	cfg := AppConfig{Jury: DefaultJury()}
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.History.JournalSize == 0 {
		cfg.History.JournalSize = 10000
	}
	if cfg.Jury.WaitTime <= 0 {
		cfg.Jury.WaitTime = 20
	}

	if err := cfg.Jury.Validate(); err != nil {
		return nil, fmt.Errorf("invalid jury config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the workflow settings.
func (j JuryConfig) Validate() error {
	var errs []error
	if j.InsiderWeight <= 0 || j.InsiderWeight > 1 {
		errs = append(errs, fmt.Errorf("insider_weight must be in (0, 1], got %v", j.InsiderWeight))
	}
	if len(j.Vote) == 0 {
		errs = append(errs, errors.New("vote must list at least one option"))
	}
	for _, v := range j.Vote {
		if v < 0 {
			errs = append(errs, fmt.Errorf("vote option %d is negative", v))
		}
	}
	if len(j.Insiders) == 0 {
		errs = append(errs, errors.New("insiders must not be empty"))
	}
	if len(j.Anonymous) == 0 {
		errs = append(errs, errors.New("anonymous must not be empty"))
	}
	if j.ErrorBudget <= 0 {
		errs = append(errs, fmt.Errorf("error_budget must be positive, got %d", j.ErrorBudget))
	}
	for name, w := range map[string]delay.Window{
		"confirm_delay":     j.ConfirmDelay,
		"error_backoff":     j.ErrorBackoff,
		"exception_backoff": j.ExceptionBackoff,
	} {
		if w.Min < 0 || w.Min > w.Max {
			errs = append(errs, fmt.Errorf("%s: min %v must be within [0, max %v]", name, w.Min, w.Max))
		}
	}
	return errors.Join(errs...)
}
