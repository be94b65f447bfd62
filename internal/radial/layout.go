// Package radial lays out categorised persona traits as a two-ring sunburst and
// renders the result as SVG.
//
// Angles are radians measured clockwise from 12 o'clock, matching the usual
// d3 arc convention. The inner ring holds categories, the outer ring holds one
// arc per trait whose outer radius grows with the trait's normalised value.
package radial

import (
	"math"

	"github.com/personachat/personachat/internal/persona"
)

// Radii of the two rings.
type Radii struct {
	Inner    float64 `json:"inner"`
	Middle   float64 `json:"middle"`
	MaxOuter float64 `json:"max_outer"`
}

// Geometry is the drawing area.
type Geometry struct {
	Width  float64
	Height float64
	Margin float64
}

// DefaultGeometry is used when options leave the size unset.
var DefaultGeometry = Geometry{Width: 600, Height: 600, Margin: 60}

// Radii derives ring radii from the drawing area. The margin leaves room for labels.
func (g Geometry) Radii() Radii {
	w, h := g.Width, g.Height
	if w <= 0 {
		w = DefaultGeometry.Width
	}
	if h <= 0 {
		h = DefaultGeometry.Height
	}
	margin := g.Margin
	if margin < 0 {
		margin = 0
	}

	r := math.Min(w, h)/2 - margin
	if r <= 0 {
		r = math.Min(w, h) / 2
	}
	return Radii{Inner: r * 0.25, Middle: r * 0.55, MaxOuter: r}
}

// CategoryArc is the inner-ring arc of one category.
type CategoryArc struct {
	Name          string  `json:"name"`
	Color         string  `json:"color"`
	StartAngle    float64 `json:"start_angle"`
	EndAngle      float64 `json:"end_angle"`
	InnerRadius   float64 `json:"inner_radius"`
	OuterRadius   float64 `json:"outer_radius"`
	MidAngle      float64 `json:"mid_angle"`
	LabelReversed bool    `json:"label_reversed"`
	ItemCount     int     `json:"item_count"`
}

// ItemArc is the outer-ring arc of one trait.
type ItemArc struct {
	Category        int     `json:"category"` // Index into Result.CategoryArcs
	Label           string  `json:"label"`
	Color           string  `json:"color"`
	IsPositive      bool    `json:"is_positive"`
	RawValue        float64 `json:"raw_value"`
	NormalizedValue float64 `json:"normalized_value"`
	StartAngle      float64 `json:"start_angle"`
	EndAngle        float64 `json:"end_angle"`
	InnerRadius     float64 `json:"inner_radius"`
	OuterRadius     float64 `json:"outer_radius"`
	MidAngle        float64 `json:"mid_angle"`
}

// Result is the full chart geometry.
type Result struct {
	Radii        Radii         `json:"radii"`
	CategoryArcs []CategoryArc `json:"category_arcs"`
	ItemArcs     []ItemArc     `json:"item_arcs"`
}

// Empty reports whether there is nothing to draw.
func (r Result) Empty() bool {
	return len(r.CategoryArcs) == 0
}

// Layout computes arcs for categories. Items split their category's span
// equally in list order. An empty category list yields an empty Result.
func Layout(categories []persona.Category, radii Radii) Result {
	res := Result{Radii: radii}
	if len(categories) == 0 {
		return res
	}

	for _, c := range categories {
		span := c.EndAngle - c.StartAngle
		if span <= 0 {
			continue
		}

		mid := c.StartAngle + span/2
		res.CategoryArcs = append(res.CategoryArcs, CategoryArc{
			Name:          c.Name,
			Color:         c.Color,
			StartAngle:    c.StartAngle,
			EndAngle:      c.EndAngle,
			InnerRadius:   radii.Inner,
			OuterRadius:   radii.Middle,
			MidAngle:      mid,
			LabelReversed: ReverseLabel(mid),
			ItemCount:     len(c.Items),
		})
		catIndex := len(res.CategoryArcs) - 1

		if len(c.Items) == 0 {
			continue
		}
		step := span / float64(len(c.Items))
		for i, it := range c.Items {
			start := c.StartAngle + float64(i)*step
			end := start + step
			if i == len(c.Items)-1 {
				end = c.EndAngle
			}
			v := clamp(it.NormalizedValue, 0, 100)
			res.ItemArcs = append(res.ItemArcs, ItemArc{
				Category:        catIndex,
				Label:           it.DisplayName,
				Color:           c.Color,
				IsPositive:      it.IsPositive,
				RawValue:        it.RawValue,
				NormalizedValue: v,
				StartAngle:      start,
				EndAngle:        end,
				InnerRadius:     radii.Middle,
				OuterRadius:     OuterRadius(v, radii),
				MidAngle:        start + step/2,
			})
		}
	}
	return res
}

// OuterRadius maps a normalised value in [0,100] onto [Middle, MaxOuter].
func OuterRadius(normalized float64, radii Radii) float64 {
	v := clamp(normalized, 0, 100)
	extent := radii.MaxOuter - radii.Middle
	if extent < 0 {
		extent = 0
	}
	return radii.Middle + v/100*extent
}

// ReverseLabel reports whether a label centred on angle would be upside down,
// i.e. the angle lies in the lower half (π/2, 3π/2).
func ReverseLabel(angle float64) bool {
	a := math.Mod(angle, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a > math.Pi/2 && a < 3*math.Pi/2
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
