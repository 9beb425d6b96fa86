package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the analysis_settings block of a dataset
// configuration so the same JSON can be used for both startup defaults
// and per-dataset overrides.
type TuningConfig struct {
	// Tracker params
	MaxAgeFrames      *int     `json:"max_age_frames,omitempty"`
	IoUThreshold      *float64 `json:"iou_threshold,omitempty"`
	MinHitsPedestrian *int     `json:"min_hits_pedestrian,omitempty"`
	MinHitsVehicle    *int     `json:"min_hits_vehicle,omitempty"`

	// Quality filter params
	MinLengthM          *float64 `json:"min_length_m,omitempty"`
	MaxDirectionChanges *int     `json:"max_direction_changes,omitempty"`
	MinNetOverPathRatio *float64 `json:"min_net_over_path_ratio,omitempty"`
	PixelToMeter        *float64 `json:"pixel_to_meter,omitempty"`

	// Aggregation params
	IntervalMinutes *int     `json:"interval_minutes,omitempty"`
	TTCThresholdS   *float64 `json:"ttc_threshold_s,omitempty"`

	// Count rebuild worker params
	RebuildInterval *string `json:"rebuild_interval,omitempty"` // duration string like "60s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// compiled default. Useful as a template for writing config files.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		MaxAgeFrames:        ptrInt(30),
		IoUThreshold:        ptrFloat64(0.3),
		MinHitsPedestrian:   ptrInt(3),
		MinHitsVehicle:      ptrInt(8),
		MinLengthM:          ptrFloat64(5.0),
		MaxDirectionChanges: ptrInt(20),
		MinNetOverPathRatio: ptrFloat64(0.2),
		PixelToMeter:        ptrFloat64(0.05),
		IntervalMinutes:     ptrInt(15),
		TTCThresholdS:       ptrFloat64(1.5),
		RebuildInterval:     ptrString("60s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/aforo/parse/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.IoUThreshold != nil {
		if *c.IoUThreshold <= 0 || *c.IoUThreshold > 1 {
			return fmt.Errorf("iou_threshold must be in (0, 1], got %f", *c.IoUThreshold)
		}
	}

	if c.MaxAgeFrames != nil && *c.MaxAgeFrames < 1 {
		return fmt.Errorf("max_age_frames must be at least 1, got %d", *c.MaxAgeFrames)
	}

	if c.MinHitsPedestrian != nil && *c.MinHitsPedestrian < 1 {
		return fmt.Errorf("min_hits_pedestrian must be at least 1, got %d", *c.MinHitsPedestrian)
	}

	if c.MinHitsVehicle != nil && *c.MinHitsVehicle < 1 {
		return fmt.Errorf("min_hits_vehicle must be at least 1, got %d", *c.MinHitsVehicle)
	}

	if c.IntervalMinutes != nil && *c.IntervalMinutes < 1 {
		return fmt.Errorf("interval_minutes must be at least 1, got %d", *c.IntervalMinutes)
	}

	if c.MinLengthM != nil && *c.MinLengthM < 0 {
		return fmt.Errorf("min_length_m must be non-negative, got %f", *c.MinLengthM)
	}

	if c.PixelToMeter != nil && *c.PixelToMeter <= 0 {
		return fmt.Errorf("pixel_to_meter must be positive, got %f", *c.PixelToMeter)
	}

	// Validate RebuildInterval can be parsed if set
	if c.RebuildInterval != nil && *c.RebuildInterval != "" {
		if _, err := time.ParseDuration(*c.RebuildInterval); err != nil {
			return fmt.Errorf("invalid rebuild_interval '%s': %w", *c.RebuildInterval, err)
		}
	}

	return nil
}

// GetRebuildInterval parses and returns the RebuildInterval as a time.Duration.
func (c *TuningConfig) GetRebuildInterval() time.Duration {
	if c.RebuildInterval == nil || *c.RebuildInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.RebuildInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetMaxAgeFrames returns the max_age_frames value or the default.
func (c *TuningConfig) GetMaxAgeFrames() int {
	if c.MaxAgeFrames == nil {
		return 30
	}
	return *c.MaxAgeFrames
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.3
	}
	return *c.IoUThreshold
}

// GetMinHitsPedestrian returns the min_hits_pedestrian value or the default.
func (c *TuningConfig) GetMinHitsPedestrian() int {
	if c.MinHitsPedestrian == nil {
		return 3
	}
	return *c.MinHitsPedestrian
}

// GetMinHitsVehicle returns the min_hits_vehicle value or the default.
func (c *TuningConfig) GetMinHitsVehicle() int {
	if c.MinHitsVehicle == nil {
		return 8
	}
	return *c.MinHitsVehicle
}

// GetMinLengthM returns the min_length_m value or the default.
func (c *TuningConfig) GetMinLengthM() float64 {
	if c.MinLengthM == nil {
		return 5.0
	}
	return *c.MinLengthM
}

// GetMaxDirectionChanges returns the max_direction_changes value or the default.
func (c *TuningConfig) GetMaxDirectionChanges() int {
	if c.MaxDirectionChanges == nil {
		return 20
	}
	return *c.MaxDirectionChanges
}

// GetMinNetOverPathRatio returns the min_net_over_path_ratio value or the default.
func (c *TuningConfig) GetMinNetOverPathRatio() float64 {
	if c.MinNetOverPathRatio == nil {
		return 0.2
	}
	return *c.MinNetOverPathRatio
}

// GetPixelToMeter returns the pixel_to_meter value or the default.
func (c *TuningConfig) GetPixelToMeter() float64 {
	if c.PixelToMeter == nil {
		return 0.05
	}
	return *c.PixelToMeter
}

// GetIntervalMinutes returns the interval_minutes value or the default.
func (c *TuningConfig) GetIntervalMinutes() int {
	if c.IntervalMinutes == nil {
		return 15
	}
	return *c.IntervalMinutes
}

// GetTTCThresholdS returns the ttc_threshold_s value or the default.
func (c *TuningConfig) GetTTCThresholdS() float64 {
	if c.TTCThresholdS == nil {
		return 1.5
	}
	return *c.TTCThresholdS
}
