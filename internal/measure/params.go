package measure

import "github.com/andresmejia3/silhouette/internal/mask"

// Params tunes the engine. DefaultParams returns the calibrated values.
type Params struct {
	// WaistRatio places the waist row this fraction of the way from the hip line up to the shoulder line.
	WaistRatio float64
	// WaistMarginPx widens the waist scan window beyond the hip joints on each side.
	WaistMarginPx float64
	// WaistFallbackRows is how far above and below the target row the scan may retry.
	WaistFallbackRows int
	// HipPaddingPx is added to the joint-to-joint hip distance.
	HipPaddingPx float32
	// HeightFallback enables the fixed mid-height waist row when no landmarks exist at all.
	HeightFallback bool
	// HeightFallbackRatio is the row used by HeightFallback, as a fraction of mask height.
	HeightFallbackRatio float64
	// Thresholds are used when a caller normalizes masks on the engine's behalf.
	Thresholds mask.Thresholds
}

// DefaultParams returns the standard engine parameters.
func DefaultParams() Params {
	return Params{
		WaistRatio:          0.33,
		WaistMarginPx:       10,
		WaistFallbackRows:   5,
		HipPaddingPx:        20,
		HeightFallback:      false,
		HeightFallbackRatio: 0.5,
		Thresholds:          mask.DefaultThresholds(),
	}
}
