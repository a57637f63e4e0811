package analysis

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/tractwise/hotspot-cli/internal/esda"
	"github.com/tractwise/hotspot-cli/internal/geoframe"
	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/internal/shapes"
	"github.com/tractwise/hotspot-cli/internal/weights"
	"github.com/tractwise/hotspot-cli/pkg/acs"
)

// NeighborFinder derives the neighbor graph for a joined frame. The map is
// keyed by GEOID and every neighbor must itself be a frame unit.
type NeighborFinder interface {
	Find(frame *geoframe.Frame) (map[string][]string, error)
}

type contiguityFinder struct {
	rule weights.Contiguity
}

func (f contiguityFinder) Find(frame *geoframe.Frame) (map[string][]string, error) {
	return weights.ContiguityNeighbors(frame.GEOIDs(), frame.Geometries(), f.rule)
}

type knnFinder struct {
	k int
}

func (f knnFinder) Find(frame *geoframe.Frame) (map[string][]string, error) {
	return weights.KNNNeighbors(frame.GEOIDs(), frame.Centroids(), f.k)
}

type distanceFinder struct {
	meters float64
}

func (f distanceFinder) Find(frame *geoframe.Frame) (map[string][]string, error) {
	return weights.DistanceBandNeighbors(frame.GEOIDs(), frame.Centroids(), f.meters)
}

// FinderFor selects the neighbor finder a parameter set names. The empty
// rule defaults to queen contiguity.
func FinderFor(params model.RunParams) (NeighborFinder, error) {
	switch strings.ToLower(strings.TrimSpace(params.Weights)) {
	case "", "queen":
		return contiguityFinder{rule: weights.Queen}, nil
	case "rook":
		return contiguityFinder{rule: weights.Rook}, nil
	case "knn":
		if params.K < 1 {
			return nil, eris.Errorf("analysis: knn weights need k >= 1, have %d", params.K)
		}
		return knnFinder{k: params.K}, nil
	case "distance":
		if !(params.ThresholdM > 0) {
			return nil, eris.Errorf("analysis: distance-band weights need a threshold > 0 meters, have %g", params.ThresholdM)
		}
		return distanceFinder{meters: params.ThresholdM}, nil
	default:
		return nil, eris.Errorf("analysis: unknown weights rule %q (want queen, rook, knn or distance)", params.Weights)
	}
}

// plan is a parameter set resolved against the metric catalog, the boundary
// layer table and the statistics options. Resolving it up front means a bad
// request fails before any network or disk work starts.
type plan struct {
	params model.RunParams
	metric acs.Metric
	layer  shapes.Layer
	geo    acs.Geography
	finder NeighborFinder
	style  weights.Style
	alt    esda.Alternative
}

func buildPlan(params model.RunParams, finder NeighborFinder) (*plan, error) {
	metric, ok := acs.MetricByName(params.Metric)
	if !ok {
		return nil, eris.Errorf("analysis: unknown metric %q (known: %s)",
			params.Metric, strings.Join(acs.MetricNames(), ", "))
	}

	layer, ok := shapes.LayerByName(params.Level)
	if !ok {
		return nil, eris.Errorf("analysis: unknown level %q", params.Level)
	}
	if layer.PerState && params.State == "" {
		return nil, eris.Errorf("analysis: level %q requires a state", layer.Name)
	}
	if params.County != "" && layer.Name != "tract" && layer.Name != "bg" {
		return nil, eris.Errorf("analysis: county filter only applies to tract and bg, not %q", layer.Name)
	}

	geo := acs.Geography{
		Level:  layer.Name,
		State:  params.State,
		County: params.County,
	}
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	if finder == nil {
		var err error
		finder, err = FinderFor(params)
		if err != nil {
			return nil, err
		}
	}

	style, err := styleFor(params.Style)
	if err != nil {
		return nil, err
	}

	alt, err := esda.ParseAlternative(params.Alternative)
	if err != nil {
		return nil, err
	}

	if params.Permutations < 0 {
		return nil, eris.Errorf("analysis: permutations must be >= 0, have %d", params.Permutations)
	}

	return &plan{
		params: params,
		metric: metric,
		layer:  layer,
		geo:    geo,
		finder: finder,
		style:  style,
		alt:    alt,
	}, nil
}

// Validate resolves a parameter set without running it, so callers can
// reject a bad request before persisting a run for it.
func Validate(params model.RunParams) error {
	_, err := buildPlan(params, nil)
	return err
}

func styleFor(s string) (weights.Style, error) {
	style, err := weights.ParseStyle(s)
	if err != nil {
		return "", eris.Wrap(err, "analysis")
	}
	return style, nil
}

// states is the state selection handed to the boundary source. National
// layers take an empty selection when no state is given.
func (pl *plan) states() []string {
	if pl.params.State == "" {
		return nil
	}
	return []string{pl.params.State}
}

// unitPrefix narrows state boundary files to one county. Tract and block
// group GEOIDs start with the five digits of state plus county FIPS.
func (pl *plan) unitPrefix() string {
	if pl.params.County == "" {
		return ""
	}
	return pl.params.State + pl.params.County
}
