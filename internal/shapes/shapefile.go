package shapes

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// Unit is one geographic unit parsed from a boundary shapefile.
type Unit struct {
	GEOID    string
	Name     string
	Geometry geom.T    // MultiPolygon, SRID 4326
	Centroid orb.Point // lon/lat
	ALand    int64     // land area, m²
	AWater   int64     // water area, m²
}

// ParseUnits reads a boundary shapefile and returns its units in file order.
// Field names are matched case-insensitively with trailing NULs trimmed;
// records without a GEOID or a usable polygon are skipped.
func ParseUnits(shpPath string, layer Layer) ([]Unit, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "shapes: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	attr := func(name string) string {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return ""
		}
		val := strings.TrimRight(reader.Attribute(idx), "\x00")
		return strings.TrimSpace(val)
	}

	var units []Unit
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		geoid := attr(layer.GEOIDField())
		if geoid == "" {
			skipped++
			continue
		}

		mp := multiPolygonFromShape(shape)
		if mp == nil {
			skipped++
			continue
		}

		centroid, err := Centroid(mp)
		if err != nil {
			skipped++
			continue
		}

		units = append(units, Unit{
			GEOID:    geoid,
			Name:     attr(layer.NameField()),
			Geometry: mp,
			Centroid: centroid,
			ALand:    parseArea(attr(layer.ALandField())),
			AWater:   parseArea(attr(layer.AWaterField())),
		})
	}

	if skipped > 0 {
		zap.L().Debug("shapes: skipped shapefile records",
			zap.String("layer", layer.Name),
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return units, nil
}

func parseArea(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
