// Package config loads comparison tuning defaults from JSON. All fields
// are optional pointers so partial config files are safe: anything omitted
// falls back to the built-in default via the Get* accessors.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path checked when no -config flag is given.
const DefaultConfigPath = "config/tuning.defaults.json"

// Built-in defaults, used when a field is absent from the config file.
const (
	DefaultCoincidenceWindow = 24 // Frames; 0.8 ms at 30 kHz
	DefaultMinAccuracy       = 0.5
	DefaultMinimumMatching   = 2
	DefaultBandLowHz         = 300.0
	DefaultBandHighHz        = 6000.0
	DefaultReferenceMethod   = "median"
)

// Tuning holds the comparison and preprocessing defaults. The same JSON
// schema is accepted by every subcommand's -config flag.
type Tuning struct {
	CoincidenceWindow *int64   `json:"coincidence_window_frames,omitempty"`
	MinAccuracy       *float64 `json:"min_accuracy,omitempty"`
	MinimumMatching   *int     `json:"minimum_matching,omitempty"`
	Workers           *int     `json:"workers,omitempty"`

	// Preprocessing params
	BandLowHz       *float64 `json:"band_low_hz,omitempty"`
	BandHighHz      *float64 `json:"band_high_hz,omitempty"`
	ReferenceMethod *string  `json:"reference_method,omitempty"` // "median" or "average"
}

// Load reads a Tuning from a JSON file. The file must have a .json
// extension and stay under 1MB.
func Load(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := &Tuning{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func (t *Tuning) GetCoincidenceWindow() int64 {
	if t != nil && t.CoincidenceWindow != nil {
		return *t.CoincidenceWindow
	}
	return DefaultCoincidenceWindow
}

func (t *Tuning) GetMinAccuracy() float64 {
	if t != nil && t.MinAccuracy != nil {
		return *t.MinAccuracy
	}
	return DefaultMinAccuracy
}

func (t *Tuning) GetMinimumMatching() int {
	if t != nil && t.MinimumMatching != nil {
		return *t.MinimumMatching
	}
	return DefaultMinimumMatching
}

func (t *Tuning) GetWorkers() int {
	if t != nil && t.Workers != nil {
		return *t.Workers
	}
	return 0 // compare interprets 0 as one worker per CPU
}

func (t *Tuning) GetBandLowHz() float64 {
	if t != nil && t.BandLowHz != nil {
		return *t.BandLowHz
	}
	return DefaultBandLowHz
}

func (t *Tuning) GetBandHighHz() float64 {
	if t != nil && t.BandHighHz != nil {
		return *t.BandHighHz
	}
	return DefaultBandHighHz
}

func (t *Tuning) GetReferenceMethod() string {
	if t != nil && t.ReferenceMethod != nil {
		return *t.ReferenceMethod
	}
	return DefaultReferenceMethod
}
