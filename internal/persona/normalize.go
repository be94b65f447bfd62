// Package persona turns rated persona vectors into categorised, display-ready traits.
//
// Everything in this package is pure: no I/O, no clocks, no globals that change.
// Malformed input degrades to empty output instead of an error so a broken rating
// never takes the chart down with it.
package persona

import "math"

// Scale is the closed interval a raw value is expected in.
type Scale struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultScale is the rating service's convention.
var DefaultScale = Scale{Min: -2, Max: 2}

// IsZero reports whether the scale was left unset.
func (s Scale) IsZero() bool {
	return s.Min == 0 && s.Max == 0
}

// Span is the largest absolute bound, used as the ceiling for magnitudes.
func (s Scale) Span() float64 {
	return math.Max(math.Abs(s.Min), math.Abs(s.Max))
}

// Normalize clamps value to the scale and rescales it to [0,100].
//
// A degenerate scale (Min == Max) returns 0. A reversed scale is swapped.
// NaN returns 0; infinities clamp like any other out-of-range value.
func Normalize(value float64, scale Scale) float64 {
	lo, hi := scale.Min, scale.Max
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == hi || math.IsNaN(value) || math.IsNaN(lo) || math.IsNaN(hi) {
		return 0
	}

	if value <= lo {
		return 0
	}
	if value >= hi {
		return 100
	}
	return (value - lo) / (hi - lo) * 100
}

// NormalizeMagnitude maps a non-negative magnitude onto [0,100] using
// [0, scale.Span()] as the range.
func NormalizeMagnitude(magnitude float64, scale Scale) float64 {
	return Normalize(math.Abs(magnitude), Scale{Min: 0, Max: scale.Span()})
}
