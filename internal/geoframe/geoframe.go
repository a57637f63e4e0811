// Package geoframe joins boundary units with attribute rows keyed by GEOID
// and derives the analysis variable (a percent). The resulting Frame is the
// unit of work the statistics operate on: an ordered set of units with one
// aligned value per unit. Frames are immutable after Build; accessors
// return copies.
package geoframe

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/tractwise/hotspot-cli/internal/shapes"
)

// ErrUnknownGEOID reports a GEOID present on one side of the join only.
var ErrUnknownGEOID = eris.New("geoframe: unknown GEOID")

// ErrInvalidValue reports a unit whose derived value is unusable
// (zero denominator or non-finite input).
var ErrInvalidValue = eris.New("geoframe: invalid derived value")

// Row is one attribute observation keyed by GEOID.
type Row struct {
	GEOID       string
	Numerator   float64
	Denominator float64
}

// Options configure Frame construction.
type Options struct {
	// DropInvalid drops units with an invalid derived value instead of
	// failing the build. Dropped GEOIDs are logged and reported by
	// Dropped().
	DropInvalid bool
}

// Frame is an ordered set of units with one derived value per unit.
type Frame struct {
	units   []shapes.Unit
	values  []float64
	index   map[string]int
	dropped []string
}

// Build joins units to rows on GEOID and derives 100·numerator/denominator
// per unit, preserving unit order. Every unit must have exactly one row and
// every row a unit; either side unmatched fails with ErrUnknownGEOID.
func Build(units []shapes.Unit, rows []Row, opts Options) (*Frame, error) {
	if len(units) == 0 {
		return nil, eris.New("geoframe: no units")
	}

	byGEOID := make(map[string]Row, len(rows))
	for _, r := range rows {
		if _, dup := byGEOID[r.GEOID]; dup {
			return nil, eris.Errorf("geoframe: duplicate attribute row for GEOID %q", r.GEOID)
		}
		byGEOID[r.GEOID] = r
	}

	seen := make(map[string]bool, len(units))
	var missing []string
	f := &Frame{
		units:  make([]shapes.Unit, 0, len(units)),
		values: make([]float64, 0, len(units)),
		index:  make(map[string]int, len(units)),
	}

	for _, u := range units {
		if seen[u.GEOID] {
			return nil, eris.Errorf("geoframe: duplicate unit GEOID %q", u.GEOID)
		}
		seen[u.GEOID] = true

		row, ok := byGEOID[u.GEOID]
		if !ok {
			missing = append(missing, u.GEOID)
			continue
		}

		v, err := derivePercent(row)
		if err != nil {
			if !opts.DropInvalid {
				return nil, err
			}
			f.dropped = append(f.dropped, u.GEOID)
			continue
		}

		f.index[u.GEOID] = len(f.units)
		f.units = append(f.units, u)
		f.values = append(f.values, v)
	}

	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrUnknownGEOID, "geoframe: %d unit(s) have no attribute row: %s",
			len(missing), sampleIDs(missing))
	}

	// Rows that matched no unit.
	var orphans []string
	for geoid := range byGEOID {
		if !seen[geoid] {
			orphans = append(orphans, geoid)
		}
	}
	if len(orphans) > 0 {
		return nil, eris.Wrapf(ErrUnknownGEOID, "geoframe: %d attribute row(s) have no boundary unit: %s",
			len(orphans), sampleIDs(orphans))
	}

	if len(f.units) == 0 {
		return nil, eris.Errorf("geoframe: no valid units remain (%d dropped)", len(f.dropped))
	}

	if len(f.dropped) > 0 {
		zap.L().Warn("geoframe: dropped units with invalid derived values",
			zap.Int("dropped", len(f.dropped)),
			zap.String("sample", sampleIDs(f.dropped)),
		)
	}

	return f, nil
}

// FromValues builds a Frame from already-derived values aligned to units.
// Used when rehydrating stored results for rendering.
func FromValues(units []shapes.Unit, values []float64) (*Frame, error) {
	if len(units) != len(values) {
		return nil, eris.Errorf("geoframe: got %d values for %d units", len(values), len(units))
	}
	if len(units) == 0 {
		return nil, eris.New("geoframe: no units")
	}
	f := &Frame{
		units:  append([]shapes.Unit(nil), units...),
		values: append([]float64(nil), values...),
		index:  make(map[string]int, len(units)),
	}
	for i, u := range units {
		if _, dup := f.index[u.GEOID]; dup {
			return nil, eris.Errorf("geoframe: duplicate unit GEOID %q", u.GEOID)
		}
		f.index[u.GEOID] = i
	}
	return f, nil
}

func derivePercent(r Row) (float64, error) {
	if math.IsNaN(r.Numerator) || math.IsInf(r.Numerator, 0) ||
		math.IsNaN(r.Denominator) || math.IsInf(r.Denominator, 0) {
		return 0, eris.Wrapf(ErrInvalidValue, "unit %q: non-finite input", r.GEOID)
	}
	if r.Denominator == 0 {
		return 0, eris.Wrapf(ErrInvalidValue, "unit %q: zero denominator", r.GEOID)
	}
	return 100 * r.Numerator / r.Denominator, nil
}

// N returns the number of units in the frame.
func (f *Frame) N() int { return len(f.units) }

// Units returns a copy of the frame's units in frame order.
func (f *Frame) Units() []shapes.Unit {
	return append([]shapes.Unit(nil), f.units...)
}

// Values returns a copy of the derived values in frame order.
func (f *Frame) Values() []float64 {
	return append([]float64(nil), f.values...)
}

// GEOIDs returns the unit GEOIDs in frame order.
func (f *Frame) GEOIDs() []string {
	out := make([]string, len(f.units))
	for i, u := range f.units {
		out[i] = u.GEOID
	}
	return out
}

// Geometries returns the unit geometries in frame order.
func (f *Frame) Geometries() []geom.T {
	out := make([]geom.T, len(f.units))
	for i, u := range f.units {
		out[i] = u.Geometry
	}
	return out
}

// Centroids returns the unit centroids in frame order.
func (f *Frame) Centroids() []orb.Point {
	out := make([]orb.Point, len(f.units))
	for i, u := range f.units {
		out[i] = u.Centroid
	}
	return out
}

// Value returns the derived value for a GEOID.
func (f *Frame) Value(geoid string) (float64, bool) {
	i, ok := f.index[geoid]
	if !ok {
		return 0, false
	}
	return f.values[i], true
}

// Unit returns the unit for a GEOID.
func (f *Frame) Unit(geoid string) (shapes.Unit, bool) {
	i, ok := f.index[geoid]
	if !ok {
		return shapes.Unit{}, false
	}
	return f.units[i], true
}

// Dropped returns the GEOIDs dropped under Options.DropInvalid.
func (f *Frame) Dropped() []string {
	return append([]string(nil), f.dropped...)
}

func sampleIDs(ids []string) string {
	const max = 5
	if len(ids) <= max {
		return strings.Join(ids, ", ")
	}
	return fmt.Sprintf("%s (and %d more)", strings.Join(ids[:max], ", "), len(ids)-max)
}
