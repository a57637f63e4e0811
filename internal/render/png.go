package render

import (
	"io"
	"math"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/tractwise/hotspot-cli/internal/model"
)

const defaultCanvas = 1024

// PNG draws the dataset as a choropleth. Units are filled per the mode's
// palette and outlined in gray; islands and units without a usable value
// fall back to the neutral fill.
type PNG struct {
	opts Options
}

func (r *PNG) Render(ds *Dataset, w io.Writer) error {
	width, height := r.opts.Width, r.opts.Height
	if width <= 0 {
		width = defaultCanvas
	}
	if height <= 0 {
		height = defaultCanvas
	}

	b, err := datasetBounds(ds.Geoms)
	if err != nil {
		return err
	}
	proj := newProjection(b, width, height)
	fill := fillFunc(ds, r.opts.Mode)

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFillRule(gg.FillRuleEvenOdd)

	for i, g := range ds.Geoms {
		rings := polygonRings(g)
		if len(rings) == 0 {
			continue
		}
		for _, ring := range rings {
			x, y := proj.apply(ring[0])
			dc.MoveTo(x, y)
			for _, pt := range ring[1:] {
				x, y = proj.apply(pt)
				dc.LineTo(x, y)
			}
			dc.ClosePath()
		}
		dc.SetColor(fill(i))
		dc.FillPreserve()
		dc.SetRGBA(0.25, 0.25, 0.25, 0.8)
		dc.SetLineWidth(0.6)
		dc.Stroke()
		dc.ClearPath()
	}

	if err := dc.EncodePNG(w); err != nil {
		return eris.Wrap(err, "render: encode png")
	}
	return nil
}

func fillFunc(ds *Dataset, mode Mode) func(int) colorful.Color {
	if mode == ModeValue {
		ramp := Spectral()
		lo, hi := valueRange(ds.Results)
		return func(i int) colorful.Color {
			v := ds.Results[i].Value.Float64()
			if math.IsNaN(v) || hi <= lo {
				return neutral
			}
			return ramp.Color((v - lo) / (hi - lo))
		}
	}
	return func(i int) colorful.Color {
		return ClusterColor(ds.Results[i].Quadrant, ds.Results[i].Label)
	}
}

func valueRange(results []model.UnitResult) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range results {
		v := r.Value.Float64()
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// polygonRings flattens a polygonal geometry into its rings, outer and
// holes alike; even-odd filling sorts them out.
func polygonRings(g geom.T) [][][2]float64 {
	var (
		flat   []float64
		stride int
		ends   []int
	)
	switch t := g.(type) {
	case *geom.Polygon:
		flat, stride, ends = t.FlatCoords(), t.Stride(), t.Ends()
	case *geom.MultiPolygon:
		flat, stride = t.FlatCoords(), t.Stride()
		for _, e := range t.Endss() {
			ends = append(ends, e...)
		}
	default:
		return nil
	}

	rings := make([][][2]float64, 0, len(ends))
	prev := 0
	for _, end := range ends {
		ring := make([][2]float64, 0, (end-prev)/stride)
		for i := prev; i+1 < end; i += stride {
			ring = append(ring, [2]float64{flat[i], flat[i+1]})
		}
		if len(ring) >= 3 {
			rings = append(rings, ring)
		}
		prev = end
	}
	return rings
}

type bounds struct {
	minX, minY, maxX, maxY float64
}

func datasetBounds(geoms []geom.T) (bounds, error) {
	b := bounds{
		minX: math.Inf(1), minY: math.Inf(1),
		maxX: math.Inf(-1), maxY: math.Inf(-1),
	}
	found := false
	for _, g := range geoms {
		for _, ring := range polygonRings(g) {
			for _, pt := range ring {
				found = true
				b.minX = math.Min(b.minX, pt[0])
				b.minY = math.Min(b.minY, pt[1])
				b.maxX = math.Max(b.maxX, pt[0])
				b.maxY = math.Max(b.maxY, pt[1])
			}
		}
	}
	if !found {
		return b, eris.New("render: no polygonal geometry to draw")
	}
	return b, nil
}

// projection maps lon/lat onto the canvas: uniform scale, centered, with
// the y axis flipped into screen coordinates.
type projection struct {
	scale      float64
	minX, maxY float64
	offX, offY float64
}

const canvasPad = 12.0

func newProjection(b bounds, width, height int) projection {
	w := float64(width) - 2*canvasPad
	h := float64(height) - 2*canvasPad
	dx := b.maxX - b.minX
	dy := b.maxY - b.minY
	if dx <= 0 {
		dx = 1e-9
	}
	if dy <= 0 {
		dy = 1e-9
	}
	s := math.Min(w/dx, h/dy)
	return projection{
		scale: s,
		minX:  b.minX,
		maxY:  b.maxY,
		offX:  canvasPad + (w-s*dx)/2,
		offY:  canvasPad + (h-s*dy)/2,
	}
}

func (p projection) apply(pt [2]float64) (float64, float64) {
	return p.offX + p.scale*(pt[0]-p.minX), p.offY + p.scale*(p.maxY-pt[1])
}
