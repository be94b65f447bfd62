package persona

import (
	"math"

	"github.com/personachat/personachat/internal/core"
)

// Category names produced by inferred grouping.
const (
	PositiveCategory = "Positive Traits"
	NegativeCategory = "Negative Traits"
)

// Fixed colours of the inferred categories.
const (
	PositiveColor = "#4caf50"
	NegativeColor = "#e57373"
)

// Palette is cycled by category index when a custom category has no colour.
var Palette = []string{
	"#4e79a7", "#f28e2b", "#e15759", "#76b7b2",
	"#59a14f", "#edc948", "#b07aa1", "#ff9da7",
}

// PaletteColor returns the palette entry for index i.
func PaletteColor(i int) string {
	if i < 0 {
		i = -i
	}
	return Palette[i%len(Palette)]
}

// Item is a resolved trait placed in a category.
type Item struct {
	ResolvedTrait
	NormalizedValue float64 `json:"normalized_value"` // Always in [0,100]
}

// Category is a named group of items with an angular span in radians.
type Category struct {
	Name       string  `json:"name"`
	Color      string  `json:"color"`
	StartAngle float64 `json:"start_angle"`
	EndAngle   float64 `json:"end_angle"`
	Scale      Scale   `json:"scale"`
	Items      []Item  `json:"items"`
}

// Span is the angular width of the category.
func (c Category) Span() float64 {
	return c.EndAngle - c.StartAngle
}

// Group turns either input shape into categories. The dispatch is on the
// concrete type only; categorised input never goes through inference.
func Group(in Input) []Category {
	switch v := in.(type) {
	case FlatInput:
		return groupFlat(v.Ratings)
	case *FlatInput:
		if v == nil {
			return nil
		}
		return groupFlat(v.Ratings)
	case CategorizedInput:
		return groupCustom(v.Categories)
	case *CategorizedInput:
		if v == nil {
			return nil
		}
		return groupCustom(v.Categories)
	default:
		return nil
	}
}

// groupFlat buckets ratings into Positive/Negative by resolved polarity, drops
// empty buckets and splits the circle evenly across the survivors.
func groupFlat(ratings []core.TraitRating) []Category {
	positive := Category{Name: PositiveCategory, Color: PositiveColor, Scale: DefaultScale}
	negative := Category{Name: NegativeCategory, Color: NegativeColor, Scale: DefaultScale}

	for _, r := range ratings {
		trait := ResolveRating(r)
		item := Item{
			ResolvedTrait:   trait,
			NormalizedValue: NormalizeMagnitude(trait.Magnitude, DefaultScale),
		}
		if trait.IsPositive {
			positive.Items = append(positive.Items, item)
		} else {
			negative.Items = append(negative.Items, item)
		}
	}

	var out []Category
	for _, c := range []Category{positive, negative} {
		if len(c.Items) > 0 {
			out = append(out, c)
		}
	}
	assignEqualSpans(out)
	return out
}

// groupCustom passes caller categories through, filling unset colour, angles
// and scale.
func groupCustom(specs []CategorySpec) []Category {
	if len(specs) == 0 {
		return nil
	}

	n := float64(len(specs))
	step := 2 * math.Pi / n
	out := make([]Category, 0, len(specs))

	for i, spec := range specs {
		c := Category{
			Name:       spec.Name,
			Color:      spec.Color,
			StartAngle: float64(i) * step,
			EndAngle:   float64(i+1) * step,
			Scale:      DefaultScale,
		}
		if c.Color == "" {
			c.Color = PaletteColor(i)
		}
		if spec.Scale != nil && !spec.Scale.IsZero() {
			c.Scale = *spec.Scale
		}
		if spec.StartAngle != nil && spec.EndAngle != nil && validSpan(*spec.StartAngle, *spec.EndAngle) {
			c.StartAngle, c.EndAngle = *spec.StartAngle, *spec.EndAngle
		}

		c.Items = make([]Item, 0, len(spec.Items))
		for _, it := range spec.Items {
			value := it.Value
			if math.IsNaN(value) {
				value = 0
			}
			name := it.Name
			if name == "" {
				name = "Unnamed"
			}
			c.Items = append(c.Items, Item{
				ResolvedTrait: ResolvedTrait{
					DisplayName: name,
					IsPositive:  value >= 0,
					Magnitude:   math.Abs(value),
					OriginalKey: it.Name,
					RawValue:    value,
				},
				NormalizedValue: Normalize(value, c.Scale),
			})
		}
		out = append(out, c)
	}
	return out
}

func validSpan(start, end float64) bool {
	return start >= 0 && start < end && end <= 2*math.Pi+1e-9
}

// assignEqualSpans lays categories contiguously around the circle. The last
// category ends exactly at 2π.
func assignEqualSpans(cats []Category) {
	if len(cats) == 0 {
		return
	}
	step := 2 * math.Pi / float64(len(cats))
	for i := range cats {
		cats[i].StartAngle = float64(i) * step
		cats[i].EndAngle = float64(i+1) * step
	}
	cats[len(cats)-1].EndAngle = 2 * math.Pi
}

// ItemCount totals the items across categories.
func ItemCount(cats []Category) int {
	n := 0
	for _, c := range cats {
		n += len(c.Items)
	}
	return n
}
