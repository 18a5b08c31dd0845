// Package config defines the engine's bootstrap configuration: the seed
// location registry and the sweep cadence. Runtime secrets (database DSN,
// broker addresses) come from the environment, not from this file.
package config

import (
	"fmt"
	"time"

	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
)

// Config represents the top-level configuration.
type Config struct {
	// Locations seeds the location registry on startup. Locations already
	// present in storage are left untouched.
	Locations []LocationSpec `yaml:"locations"`

	// Sweeper tunes the background retry and callback-timeout sweeps.
	Sweeper SweeperConfig `yaml:"sweeper,omitempty"`
}

// SweeperConfig tunes the background sweep loops. Zero values fall back to
// the engine defaults.
type SweeperConfig struct {
	// RetryInterval is how often due retries are swept.
	RetryInterval time.Duration `yaml:"retry_interval,omitempty"`

	// CallbackInterval is how often overdue callbacks are checked.
	CallbackInterval time.Duration `yaml:"callback_interval,omitempty"`

	// BatchSize caps how many tasks a single sweep pass processes.
	BatchSize int `yaml:"batch_size,omitempty"`
}

// LocationSpec describes one registered data location. Exactly one of
// Automated or Manual must be set, matching the execution type.
type LocationSpec struct {
	Name          string   `yaml:"name"`
	SystemType    string   `yaml:"system_type"`
	ExecutionType string   `yaml:"execution_type"`
	RequestTypes  []string `yaml:"request_types"`
	Priority      int      `yaml:"priority,omitempty"`

	Automated *domain.AutomatedConfig `yaml:"automated,omitempty"`
	Manual    *domain.ManualConfig    `yaml:"manual,omitempty"`
}

// ToLocation builds the domain Location this spec describes.
func (s LocationSpec) ToLocation() (*domain.Location, error) {
	var actionConfig domain.ActionConfig
	switch {
	case s.Automated != nil && s.Manual != nil:
		return nil, fmt.Errorf("location %q: automated and manual configs are mutually exclusive", s.Name)
	case s.Automated != nil:
		actionConfig = *s.Automated
	case s.Manual != nil:
		actionConfig = *s.Manual
	default:
		return nil, fmt.Errorf("location %q: one of automated or manual config is required", s.Name)
	}

	requestTypes := make([]domain.RequestType, len(s.RequestTypes))
	for i, rt := range s.RequestTypes {
		requestTypes[i] = domain.ParseRequestType(rt)
	}

	loc, err := domain.NewLocation(
		s.Name,
		domain.SystemType(s.SystemType),
		domain.ExecutionType(s.ExecutionType),
		requestTypes,
		s.Priority,
		actionConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("location %q: %w", s.Name, err)
	}
	return loc, nil
}
