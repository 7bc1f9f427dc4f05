package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/silhouette/internal/measure"
)

// TuningConfig holds optional overrides for the measurement engine and the
// model workers. Nil fields keep their defaults, so partial files are safe.
type TuningConfig struct {
	// Waist band
	WaistRatio          *float64 `json:"waist_ratio,omitempty"`
	WaistMarginPx       *float64 `json:"waist_margin_px,omitempty"`
	WaistFallbackRows   *int     `json:"waist_fallback_rows,omitempty"`
	HeightFallback      *bool    `json:"height_fallback,omitempty"`
	HeightFallbackRatio *float64 `json:"height_fallback_ratio,omitempty"`

	// Joint widths
	HipPaddingPx *float64 `json:"hip_padding_px,omitempty"`

	// Mask thresholds
	LabelThreshold       *int     `json:"label_threshold,omitempty"`
	AlphaThreshold       *int     `json:"alpha_threshold,omitempty"`
	ProbabilityThreshold *float64 `json:"probability_threshold,omitempty"`

	// Pre-processing and workers
	CloseGapsKernel   *int    `json:"close_gaps_kernel,omitempty"`
	KeepLargestRegion *bool   `json:"keep_largest_region,omitempty"`
	WorkerTimeout     *string `json:"worker_timeout,omitempty"` // duration string like "30s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultTuningConfig returns a config with every field set to the engine defaults.
func DefaultTuningConfig() *TuningConfig {
	p := measure.DefaultParams()
	return &TuningConfig{
		WaistRatio:           ptrFloat64(p.WaistRatio),
		WaistMarginPx:        ptrFloat64(p.WaistMarginPx),
		WaistFallbackRows:    ptrInt(p.WaistFallbackRows),
		HeightFallback:       ptrBool(p.HeightFallback),
		HeightFallbackRatio:  ptrFloat64(p.HeightFallbackRatio),
		HipPaddingPx:         ptrFloat64(float64(p.HipPaddingPx)),
		LabelThreshold:       ptrInt(int(p.Thresholds.Label)),
		AlphaThreshold:       ptrInt(int(p.Thresholds.Alpha)),
		ProbabilityThreshold: ptrFloat64(float64(p.Thresholds.Probability)),
		CloseGapsKernel:      ptrInt(0),
		KeepLargestRegion:    ptrBool(false),
		WorkerTimeout:        ptrString("30s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension, be under 1MB and contain only known fields.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := &TuningConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are in range.
func (c *TuningConfig) Validate() error {
	if c.WaistRatio != nil && (*c.WaistRatio < 0 || *c.WaistRatio > 1) {
		return fmt.Errorf("waist_ratio must be between 0 and 1, got %f", *c.WaistRatio)
	}
	if c.WaistMarginPx != nil && *c.WaistMarginPx < 0 {
		return fmt.Errorf("waist_margin_px must be non-negative, got %f", *c.WaistMarginPx)
	}
	if c.WaistFallbackRows != nil && *c.WaistFallbackRows < 0 {
		return fmt.Errorf("waist_fallback_rows must be non-negative, got %d", *c.WaistFallbackRows)
	}
	if c.HeightFallbackRatio != nil && (*c.HeightFallbackRatio < 0 || *c.HeightFallbackRatio > 1) {
		return fmt.Errorf("height_fallback_ratio must be between 0 and 1, got %f", *c.HeightFallbackRatio)
	}
	if c.HipPaddingPx != nil && *c.HipPaddingPx < 0 {
		return fmt.Errorf("hip_padding_px must be non-negative, got %f", *c.HipPaddingPx)
	}
	if c.LabelThreshold != nil && (*c.LabelThreshold < 1 || *c.LabelThreshold > math.MaxInt32) {
		return fmt.Errorf("label_threshold must be between 1 and %d, got %d", math.MaxInt32, *c.LabelThreshold)
	}
	if c.AlphaThreshold != nil && (*c.AlphaThreshold < 0 || *c.AlphaThreshold > 255) {
		return fmt.Errorf("alpha_threshold must be between 0 and 255, got %d", *c.AlphaThreshold)
	}
	if c.ProbabilityThreshold != nil && (*c.ProbabilityThreshold < 0 || *c.ProbabilityThreshold > 1) {
		return fmt.Errorf("probability_threshold must be between 0 and 1, got %f", *c.ProbabilityThreshold)
	}
	if c.CloseGapsKernel != nil && *c.CloseGapsKernel < 0 {
		return fmt.Errorf("close_gaps_kernel must be non-negative, got %d", *c.CloseGapsKernel)
	}
	if c.WorkerTimeout != nil && *c.WorkerTimeout != "" {
		if _, err := time.ParseDuration(*c.WorkerTimeout); err != nil {
			return fmt.Errorf("invalid worker_timeout '%s': %w", *c.WorkerTimeout, err)
		}
	}
	return nil
}

// ApplyTo copies every set field onto p.
func (c *TuningConfig) ApplyTo(p *measure.Params) {
	if c.WaistRatio != nil {
		p.WaistRatio = *c.WaistRatio
	}
	if c.WaistMarginPx != nil {
		p.WaistMarginPx = *c.WaistMarginPx
	}
	if c.WaistFallbackRows != nil {
		p.WaistFallbackRows = *c.WaistFallbackRows
	}
	if c.HeightFallback != nil {
		p.HeightFallback = *c.HeightFallback
	}
	if c.HeightFallbackRatio != nil {
		p.HeightFallbackRatio = *c.HeightFallbackRatio
	}
	if c.HipPaddingPx != nil {
		p.HipPaddingPx = float32(*c.HipPaddingPx)
	}
	if c.LabelThreshold != nil {
		p.Thresholds.Label = int32(*c.LabelThreshold)
	}
	if c.AlphaThreshold != nil {
		p.Thresholds.Alpha = uint8(*c.AlphaThreshold)
	}
	if c.ProbabilityThreshold != nil {
		p.Thresholds.Probability = float32(*c.ProbabilityThreshold)
	}
}

// Params returns the engine defaults with this config applied.
func (c *TuningConfig) Params() measure.Params {
	p := measure.DefaultParams()
	c.ApplyTo(&p)
	return p
}

// GetCloseGapsKernel returns the morphological close kernel size, 0 when disabled.
func (c *TuningConfig) GetCloseGapsKernel() int {
	if c.CloseGapsKernel == nil {
		return 0
	}
	return *c.CloseGapsKernel
}

// GetKeepLargestRegion reports whether stray mask regions are dropped before measuring.
func (c *TuningConfig) GetKeepLargestRegion() bool {
	return c.KeepLargestRegion != nil && *c.KeepLargestRegion
}

// GetWorkerTimeout parses and returns the per-request worker read timeout.
func (c *TuningConfig) GetWorkerTimeout() time.Duration {
	if c.WorkerTimeout == nil || *c.WorkerTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.WorkerTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}
