// Package render turns run results into artifacts: choropleth PNGs,
// GeoJSON feature collections, a self-contained Leaflet map page, and
// CSV/XLSX tables.
package render

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/internal/shapes"
)

// Dataset is the render input: a run's per-unit results paired with
// their boundaries, index-aligned.
type Dataset struct {
	RunID   string
	Metric  string
	Results []model.UnitResult
	Geoms   []geom.T
}

// NewDataset joins stored results to stored boundaries by GEOID. Every
// result must have a geometry; spare geometries are ignored.
func NewDataset(run *model.Run, results []model.UnitResult, geoms []model.Geometry) (*Dataset, error) {
	if run == nil {
		return nil, eris.New("render: nil run")
	}
	if len(results) == 0 {
		return nil, eris.New("render: no results to render")
	}

	byGEOID := make(map[string][]byte, len(geoms))
	for _, g := range geoms {
		byGEOID[g.GEOID] = g.EWKB
	}

	decoded := make([]geom.T, len(results))
	for i, res := range results {
		ewkb, ok := byGEOID[res.GEOID]
		if !ok {
			return nil, eris.Errorf("render: no geometry stored for unit %s", res.GEOID)
		}
		g, err := shapes.DecodeEWKB(ewkb)
		if err != nil {
			return nil, eris.Wrapf(err, "render: unit %s", res.GEOID)
		}
		decoded[i] = g
	}

	return &Dataset{
		RunID:   run.ID,
		Metric:  run.Params.Metric,
		Results: results,
		Geoms:   decoded,
	}, nil
}

// FromFrame pairs results with already-decoded geometries in the same
// order, for rendering straight off a live analysis.
func FromFrame(run *model.Run, results []model.UnitResult, geoms []geom.T) (*Dataset, error) {
	if run == nil {
		return nil, eris.New("render: nil run")
	}
	if len(results) == 0 {
		return nil, eris.New("render: no results to render")
	}
	if len(results) != len(geoms) {
		return nil, eris.Errorf("render: %d results but %d geometries", len(results), len(geoms))
	}
	return &Dataset{
		RunID:   run.ID,
		Metric:  run.Params.Metric,
		Results: results,
		Geoms:   geoms,
	}, nil
}

// Mode selects what a map colors: raw attribute values on a gradient, or
// cluster labels on the categorical palette.
type Mode string

const (
	ModeValue   Mode = "value"
	ModeCluster Mode = "cluster"
)

// ParseMode maps a user-supplied string to a Mode. The empty string
// selects ModeCluster.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCluster:
		return ModeCluster, nil
	case ModeValue:
		return ModeValue, nil
	default:
		return "", eris.Errorf("render: unknown mode %q (want value or cluster)", s)
	}
}

// Options configure the artifact renderers.
type Options struct {
	// Mode selects PNG/HTML coloring. Defaults to ModeCluster.
	Mode Mode
	// Width and Height size the PNG canvas in pixels. Default 1024x1024.
	Width  int
	Height int
	// Title overrides the HTML page title. Defaults to the metric name.
	Title string
}

// Renderer writes one artifact for a dataset.
type Renderer interface {
	Render(ds *Dataset, w io.Writer) error
}

// For returns the renderer for a format name. Names match the usual file
// extensions: png, geojson, html, csv, xlsx.
func For(format string, opts Options) (Renderer, error) {
	if opts.Mode == "" {
		opts.Mode = ModeCluster
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "png":
		return &PNG{opts: opts}, nil
	case "geojson", "json":
		return &GeoJSON{}, nil
	case "html", "map":
		return &HTML{opts: opts}, nil
	case "csv":
		return &CSV{}, nil
	case "xlsx":
		return &XLSX{}, nil
	default:
		return nil, eris.Errorf("render: unknown format %q (want png, geojson, html, csv or xlsx)", format)
	}
}
