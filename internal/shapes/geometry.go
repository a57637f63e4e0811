package shapes

import (
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// multiPolygonFromShape converts a shapefile polygon to a geom.MultiPolygon
// with SRID 4326. Each shapefile part becomes its own single-ring polygon.
// Returns nil for nil, empty, or non-polygon shapes.
func multiPolygonFromShape(shape shp.Shape) *geom.MultiPolygon {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("shapes: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("shapes: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// EncodeEWKB serializes a geometry as EWKB with its SRID, little-endian.
// Returns nil, nil for a nil geometry.
func EncodeEWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "shapes: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB deserializes an EWKB geometry.
func DecodeEWKB(data []byte) (geom.T, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "shapes: decode EWKB")
	}
	return g, nil
}

// Centroid returns the area-weighted centroid of a polygonal geometry as a
// lon/lat point.
func Centroid(g geom.T) (orb.Point, error) {
	var mp orb.MultiPolygon
	switch t := g.(type) {
	case *geom.Polygon:
		p := orbPolygon(t.FlatCoords(), t.Ends(), t.Stride())
		mp = orb.MultiPolygon{p}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			mp = append(mp, orbPolygon(p.FlatCoords(), p.Ends(), p.Stride()))
		}
	default:
		return orb.Point{}, eris.Errorf("shapes: centroid of non-polygonal geometry %T", g)
	}

	if len(mp) == 0 {
		return orb.Point{}, eris.New("shapes: centroid of empty geometry")
	}

	c, _ := planar.CentroidArea(mp)
	return c, nil
}

// orbPolygon builds an orb.Polygon from go-geom flat coordinates.
func orbPolygon(flat []float64, ends []int, stride int) orb.Polygon {
	var poly orb.Polygon
	start := 0
	for _, end := range ends {
		ring := make(orb.Ring, 0, (end-start)/stride)
		for i := start; i < end; i += stride {
			ring = append(ring, orb.Point{flat[i], flat[i+1]})
		}
		poly = append(poly, ring)
		start = end
	}
	return poly
}
