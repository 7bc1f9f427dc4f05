package measure

import "fmt"

// Result holds the widths extracted from one image, in pixels.
// A nil field means the measurement was not available.
type Result struct {
	ShoulderWidthPx *float32 `json:"shoulder_width_px"`
	WaistWidthPx    *int     `json:"waist_width_px"`
	HipWidthPx      *float32 `json:"hip_width_px"`
}

// Aggregate packages independently computed widths. No field is derived from another.
func Aggregate(shoulder, hip *float32, waist *int) Result {
	return Result{
		ShoulderWidthPx: shoulder,
		WaistWidthPx:    waist,
		HipWidthPx:      hip,
	}
}

// Complete reports whether all three widths are present.
func (r Result) Complete() bool {
	return len(r.Missing()) == 0
}

// Missing lists the names of the absent widths.
func (r Result) Missing() []string {
	var missing []string
	if r.ShoulderWidthPx == nil {
		missing = append(missing, "shoulder")
	}
	if r.WaistWidthPx == nil {
		missing = append(missing, "waist")
	}
	if r.HipWidthPx == nil {
		missing = append(missing, "hip")
	}
	return missing
}

// String renders the result the way the CLI prints it.
func (r Result) String() string {
	return fmt.Sprintf("shoulder=%s waist=%s hip=%s",
		FormatFloat(r.ShoulderWidthPx), FormatInt(r.WaistWidthPx), FormatFloat(r.HipWidthPx))
}

// FormatFloat formats an optional width with one decimal, or "N/A".
func FormatFloat(v *float32) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1f", *v)
}

// FormatInt formats an optional width, or "N/A".
func FormatInt(v *int) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *v)
}
