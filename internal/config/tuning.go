// Package config loads tuning parameters for the transport and fitting
// chain from JSON files. Fields omitted from a file fall back to the
// compiled defaults, so partial configs are safe to ship per campaign.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/trackfit/internal/propagator"
	"github.com/banshee-data/trackfit/internal/stepper"
)

// TuningConfig represents the root configuration for tuning parameters.
// All fields are optional; the Get* accessors supply defaults matching
// stepper.DefaultConfig and propagator.DefaultConfig.
type TuningConfig struct {
	// Stepper params
	Tolerance      *float64 `json:"tolerance,omitempty"`
	StepSizeCutOff *float64 `json:"step_size_cutoff,omitempty"`
	MaxStepTrials  *int     `json:"max_step_trials,omitempty"`
	MaxStepSize    *float64 `json:"max_step_size,omitempty"`

	// Propagator params
	MaxSteps        *int     `json:"max_steps,omitempty"`
	PathLimit       *float64 `json:"path_limit,omitempty"`
	TargetTolerance *float64 `json:"target_tolerance,omitempty"`

	// Fit campaign params
	FieldTesla *float64 `json:"field_tesla,omitempty"`
	MassGeV    *float64 `json:"mass_gev,omitempty"`
	Workers    *int     `json:"workers,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset so every
// accessor falls back to its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must
// have a .json extension and stay under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.Tolerance != nil && *c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", *c.Tolerance)
	}
	if c.StepSizeCutOff != nil && *c.StepSizeCutOff <= 0 {
		return fmt.Errorf("step_size_cutoff must be positive, got %g", *c.StepSizeCutOff)
	}
	if c.MaxStepTrials != nil && *c.MaxStepTrials < 1 {
		return fmt.Errorf("max_step_trials must be >= 1, got %d", *c.MaxStepTrials)
	}
	if c.MaxStepSize != nil && *c.MaxStepSize <= 0 {
		return fmt.Errorf("max_step_size must be positive, got %g", *c.MaxStepSize)
	}
	if c.MaxSteps != nil && *c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be >= 1, got %d", *c.MaxSteps)
	}
	if c.PathLimit != nil && *c.PathLimit < 0 {
		return fmt.Errorf("path_limit must be non-negative, got %g", *c.PathLimit)
	}
	if c.TargetTolerance != nil && *c.TargetTolerance <= 0 {
		return fmt.Errorf("target_tolerance must be positive, got %g", *c.TargetTolerance)
	}
	if c.FieldTesla != nil && (*c.FieldTesla < -50 || *c.FieldTesla > 50) {
		return fmt.Errorf("field_tesla out of sane range: %g", *c.FieldTesla)
	}
	if c.MassGeV != nil && *c.MassGeV < 0 {
		return fmt.Errorf("mass_gev must be non-negative, got %g", *c.MassGeV)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// StepperConfig assembles a stepper.Config from the tuning values,
// falling back to the stepper defaults for unset fields.
func (c *TuningConfig) StepperConfig() stepper.Config {
	cfg := stepper.DefaultConfig()
	if c.Tolerance != nil {
		cfg.Tolerance = *c.Tolerance
	}
	if c.StepSizeCutOff != nil {
		cfg.StepSizeCutOff = *c.StepSizeCutOff
	}
	if c.MaxStepTrials != nil {
		cfg.MaxStepTrials = *c.MaxStepTrials
	}
	if c.MaxStepSize != nil {
		cfg.MaxStepSize = *c.MaxStepSize
	}
	return cfg
}

// PropagatorConfig assembles a propagator.Config from the tuning values.
func (c *TuningConfig) PropagatorConfig() propagator.Config {
	cfg := propagator.DefaultConfig()
	if c.MaxSteps != nil {
		cfg.MaxSteps = *c.MaxSteps
	}
	if c.PathLimit != nil {
		cfg.PathLimit = *c.PathLimit
	}
	if c.TargetTolerance != nil {
		cfg.TargetTolerance = *c.TargetTolerance
	}
	return cfg
}

// GetFieldTesla returns the solenoid field in Tesla or the default.
func (c *TuningConfig) GetFieldTesla() float64 {
	if c.FieldTesla == nil {
		return 2.0
	}
	return *c.FieldTesla
}

// GetMassGeV returns the particle hypothesis mass or the charged-pion
// default.
func (c *TuningConfig) GetMassGeV() float64 {
	if c.MassGeV == nil {
		return 0.139570
	}
	return *c.MassGeV
}

// GetWorkers returns the fit worker count; zero means one per CPU.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}
