package radial

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/personachat/personachat/internal/persona"
)

// Options mirror the browser chart options.
type Options struct {
	Width           float64 `json:"width,omitempty"`
	Height          float64 `json:"height,omitempty"`
	CenterLabel     string  `json:"centerLabel,omitempty"`
	CenterSubLabel  string  `json:"centerSubLabel,omitempty"`
	Animate         bool    `json:"animate,omitempty"`
	ShowPercentages bool    `json:"showPercentages,omitempty"`
}

// Chart is a rendered sunburst.
type Chart struct {
	ID         string             `json:"id"`
	Categories []persona.Category `json:"categories"`
	Layout     Result             `json:"layout"`
	SVG        string             `json:"svg"`
}

// Render groups the input, lays it out and draws it. The id becomes the root
// element id and prefixes every internal reference. Empty input yields a chart
// with only the centre labels.
func Render(in persona.Input, id string, opts Options) *Chart {
	if id == "" {
		id = "persona-chart"
	}
	geo := Geometry{Width: opts.Width, Height: opts.Height, Margin: DefaultGeometry.Margin}
	if geo.Width <= 0 {
		geo.Width = DefaultGeometry.Width
	}
	if geo.Height <= 0 {
		geo.Height = DefaultGeometry.Height
	}

	cats := persona.Group(in)
	layout := Layout(cats, geo.Radii())

	return &Chart{
		ID:         id,
		Categories: cats,
		Layout:     layout,
		SVG:        drawSVG(id, geo, layout, opts),
	}
}

func drawSVG(id string, geo Geometry, layout Result, opts Options) string {
	var b strings.Builder
	eid := html.EscapeString(id)

	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" id="%s" class="persona-sunburst" width="%s" height="%s" viewBox="%s %s %s %s">`,
		eid, num(geo.Width), num(geo.Height),
		num(-geo.Width/2), num(-geo.Height/2), num(geo.Width), num(geo.Height))

	if !layout.Empty() {
		b.WriteString("<defs>")
		for i, c := range layout.CategoryArcs {
			r := (c.InnerRadius + c.OuterRadius) / 2
			fmt.Fprintf(&b, `<path id="%s-label-%d" d="%s"/>`, eid, i, LabelPath(r, c.StartAngle, c.EndAngle, c.LabelReversed))
		}
		b.WriteString("</defs>")
	}

	b.WriteString(`<g class="categories">`)
	for i, c := range layout.CategoryArcs {
		fmt.Fprintf(&b, `<path class="category" d="%s" fill="%s" stroke="#ffffff"/>`,
			ArcPath(c.InnerRadius, c.OuterRadius, c.StartAngle, c.EndAngle), html.EscapeString(c.Color))
		fmt.Fprintf(&b, `<text class="category-label" dy="0.35em"><textPath href="#%s-label-%d" startOffset="50%%" text-anchor="middle">%s</textPath></text>`,
			eid, i, html.EscapeString(c.Name))
	}
	b.WriteString(`</g>`)

	b.WriteString(`<g class="items">`)
	for _, it := range layout.ItemArcs {
		opacity := 0.35 + 0.65*it.NormalizedValue/100
		fmt.Fprintf(&b, `<path class="item" d="%s" fill="%s" fill-opacity="%s" stroke="#ffffff">`,
			ArcPath(it.InnerRadius, it.OuterRadius, it.StartAngle, it.EndAngle),
			html.EscapeString(it.Color), num(opacity))
		fmt.Fprintf(&b, `<title>%s: %s</title>`, html.EscapeString(it.Label), num(it.RawValue))
		if opts.Animate {
			b.WriteString(`<animate attributeName="opacity" from="0" to="1" dur="0.6s" fill="freeze"/>`)
		}
		b.WriteString(`</path>`)

		label := it.Label
		if opts.ShowPercentages {
			label = fmt.Sprintf("%s (%d%%)", label, int(math.Round(it.NormalizedValue)))
		}
		x, y := polar(it.OuterRadius+8, it.MidAngle)
		anchor := "start"
		if math.Sin(it.MidAngle) < 0 {
			anchor = "end"
		}
		fmt.Fprintf(&b, `<text class="item-label" x="%s" y="%s" text-anchor="%s" dy="0.35em">%s</text>`,
			num(x), num(y), anchor, html.EscapeString(label))
	}
	b.WriteString(`</g>`)

	if opts.CenterLabel != "" {
		fmt.Fprintf(&b, `<text class="center-label" text-anchor="middle" dy="-0.2em">%s</text>`, html.EscapeString(opts.CenterLabel))
	}
	if opts.CenterSubLabel != "" {
		fmt.Fprintf(&b, `<text class="center-sublabel" text-anchor="middle" dy="1.2em">%s</text>`, html.EscapeString(opts.CenterSubLabel))
	}

	b.WriteString(`</svg>`)
	return b.String()
}

// ArcPath draws an annular sector. A full turn is split in two halves because
// a single SVG arc cannot start and end on the same point.
func ArcPath(inner, outer, start, end float64) string {
	if end < start {
		start, end = end, start
	}
	if end-start >= 2*math.Pi-1e-9 {
		mid := start + math.Pi
		return ArcPath(inner, outer, start, mid) + " " + ArcPath(inner, outer, mid, end)
	}

	large := 0
	if end-start > math.Pi {
		large = 1
	}

	ox0, oy0 := polar(outer, start)
	ox1, oy1 := polar(outer, end)
	var b strings.Builder
	fmt.Fprintf(&b, "M%s,%s A%s,%s 0 %d 1 %s,%s", num(ox0), num(oy0), num(outer), num(outer), large, num(ox1), num(oy1))

	if inner <= 0 {
		b.WriteString(" L0,0 Z")
		return b.String()
	}
	ix1, iy1 := polar(inner, end)
	ix0, iy0 := polar(inner, start)
	fmt.Fprintf(&b, " L%s,%s A%s,%s 0 %d 0 %s,%s Z", num(ix1), num(iy1), num(inner), num(inner), large, num(ix0), num(iy0))
	return b.String()
}

// LabelPath is the open arc a category label follows. Reversed labels run
// counter-clockwise so the text reads upright. A full turn becomes the half
// circle centred on its midpoint, since a closed arc is not drawn.
func LabelPath(r, start, end float64, reversed bool) string {
	if end < start {
		start, end = end, start
	}
	if end-start >= 2*math.Pi-1e-9 {
		mid := (start + end) / 2
		start, end = mid-math.Pi/2, mid+math.Pi/2
	}
	large := 0
	if end-start > math.Pi {
		large = 1
	}
	x0, y0 := polar(r, start)
	x1, y1 := polar(r, end)
	if reversed {
		return fmt.Sprintf("M%s,%s A%s,%s 0 %d 0 %s,%s", num(x1), num(y1), num(r), num(r), large, num(x0), num(y0))
	}
	return fmt.Sprintf("M%s,%s A%s,%s 0 %d 1 %s,%s", num(x0), num(y0), num(r), num(r), large, num(x1), num(y1))
}

// polar converts a clockwise-from-top angle to SVG coordinates.
func polar(r, angle float64) (float64, float64) {
	return r * math.Sin(angle), -r * math.Cos(angle)
}

func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}
