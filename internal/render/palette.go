package render

import (
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/tractwise/hotspot-cli/internal/esda"
)

// GradientStop anchors a color at a position in [0,1].
type GradientStop struct {
	Col colorful.Color
	Pos float64
}

// GradientTable interpolates colors between sorted stops in HCL space.
type GradientTable []GradientStop

// Color returns the blend for t in [0,1]. Values past the last stop get
// the last stop's color.
func (g GradientTable) Color(t float64) colorful.Color {
	for i := 0; i < len(g)-1; i++ {
		lo, hi := g[i], g[i+1]
		if lo.Pos <= t && t <= hi.Pos {
			frac := (t - lo.Pos) / (hi.Pos - lo.Pos)
			return lo.Col.BlendHcl(hi.Col, frac).Clamped()
		}
	}
	return g[len(g)-1].Col
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic("render: bad palette hex " + s)
	}
	return c
}

// Spectral is the diverging value ramp: cool at the low end, warm at the
// high end.
func Spectral() GradientTable {
	return GradientTable{
		{mustHex("#5e4fa2"), 0.0},
		{mustHex("#3288bd"), 0.1},
		{mustHex("#66c2a5"), 0.2},
		{mustHex("#abdda4"), 0.3},
		{mustHex("#e6f598"), 0.4},
		{mustHex("#ffffbf"), 0.5},
		{mustHex("#fee090"), 0.6},
		{mustHex("#fdae61"), 0.7},
		{mustHex("#f46d43"), 0.8},
		{mustHex("#d53e4f"), 0.9},
		{mustHex("#9e0142"), 1.0},
	}
}

// neutral fills units with no usable value or label.
var neutral = mustHex("#d9d9d9")

// ClusterColor maps a unit's quadrant and label to the conventional LISA
// palette: hot clusters red, cold clusters blue, spatial outliers in the
// lighter complement, everything else neutral.
func ClusterColor(quadrant, label string) colorful.Color {
	if label == string(esda.LabelNotSignificant) || quadrant == "" {
		return neutral
	}

	strong := label == string(esda.LabelClusterStrong) || label == string(esda.LabelOutlierStrong)
	switch quadrant {
	case "HH":
		if strong {
			return mustHex("#a50026")
		}
		return mustHex("#d73027")
	case "LL":
		if strong {
			return mustHex("#313695")
		}
		return mustHex("#4575b4")
	case "HL":
		if strong {
			return mustHex("#f46d43")
		}
		return mustHex("#fdae61")
	case "LH":
		if strong {
			return mustHex("#74add1")
		}
		return mustHex("#abd9e9")
	default:
		return neutral
	}
}
