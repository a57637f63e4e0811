package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tractwise/hotspot-cli/internal/esda"
	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/internal/weights"
)

func TestFinderFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		params  model.RunParams
		want    NeighborFinder
		wantErr string
	}{
		{name: "default is queen", params: model.RunParams{}, want: contiguityFinder{rule: weights.Queen}},
		{name: "queen", params: model.RunParams{Weights: "queen"}, want: contiguityFinder{rule: weights.Queen}},
		{name: "rook", params: model.RunParams{Weights: "rook"}, want: contiguityFinder{rule: weights.Rook}},
		{name: "case and space folded", params: model.RunParams{Weights: " Rook "}, want: contiguityFinder{rule: weights.Rook}},
		{name: "knn", params: model.RunParams{Weights: "knn", K: 6}, want: knnFinder{k: 6}},
		{name: "knn needs k", params: model.RunParams{Weights: "knn"}, wantErr: "k >= 1"},
		{name: "distance", params: model.RunParams{Weights: "distance", ThresholdM: 2500}, want: distanceFinder{meters: 2500}},
		{name: "distance needs threshold", params: model.RunParams{Weights: "distance"}, wantErr: "threshold > 0"},
		{name: "unknown rule", params: model.RunParams{Weights: "bishop"}, wantErr: `unknown weights rule "bishop"`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := FinderFor(tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPlan(t *testing.T) {
	t.Parallel()

	base := func() model.RunParams {
		return model.RunParams{
			Metric:  "poverty",
			Level:   "tract",
			State:   "01",
			County:  "073",
			Weights: "queen",
		}
	}

	t.Run("resolves metric layer and geography", func(t *testing.T) {
		t.Parallel()
		pl, err := buildPlan(base(), nil)
		require.NoError(t, err)
		assert.Equal(t, "poverty", pl.metric.Name)
		assert.Equal(t, "tract", pl.layer.Name)
		assert.Equal(t, "01", pl.geo.State)
		assert.Equal(t, "073", pl.geo.County)
		assert.Equal(t, weights.StyleRow, pl.style)
		assert.Equal(t, esda.Greater, pl.alt)
		assert.Equal(t, []string{"01"}, pl.states())
		assert.Equal(t, "01073", pl.unitPrefix())
	})

	t.Run("explicit finder wins", func(t *testing.T) {
		t.Parallel()
		custom := knnFinder{k: 4}
		pl, err := buildPlan(base(), custom)
		require.NoError(t, err)
		assert.Equal(t, custom, pl.finder)
	})

	tests := []struct {
		name    string
		mutate  func(*model.RunParams)
		wantErr string
	}{
		{name: "unknown metric", mutate: func(p *model.RunParams) { p.Metric = "nope" }, wantErr: `unknown metric "nope"`},
		{name: "unknown level", mutate: func(p *model.RunParams) { p.Level = "block" }, wantErr: `unknown level "block"`},
		{name: "tract needs state", mutate: func(p *model.RunParams) { p.State = "" }, wantErr: "requires a state"},
		{name: "county only for tract and bg", mutate: func(p *model.RunParams) { p.Level = "county"; p.County = "073" }, wantErr: "county filter"},
		{name: "zcta rejects a state", mutate: func(p *model.RunParams) { p.Level = "zcta"; p.County = "" }, wantErr: "cannot be filtered by state"},
		{name: "bad style", mutate: func(p *model.RunParams) { p.Style = "median" }, wantErr: `unknown weight style "median"`},
		{name: "bad alternative", mutate: func(p *model.RunParams) { p.Alternative = "sideways" }, wantErr: "unknown alternative"},
		{name: "negative permutations", mutate: func(p *model.RunParams) { p.Permutations = -1 }, wantErr: "permutations must be >= 0"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params := base()
			tt.mutate(&params)
			_, err := buildPlan(params, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStyleFor(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "row", "ROW", "w", "W"} {
		got, err := styleFor(s)
		require.NoError(t, err, s)
		assert.Equal(t, weights.StyleRow, got, s)
	}
	for _, s := range []string{"binary", "b", "B"} {
		got, err := styleFor(s)
		require.NoError(t, err, s)
		assert.Equal(t, weights.StyleBinary, got, s)
	}

	_, err := styleFor("none")
	assert.Error(t, err)
}

func TestPlanStates_National(t *testing.T) {
	t.Parallel()

	pl, err := buildPlan(model.RunParams{Metric: "poverty", Level: "county"}, nil)
	require.NoError(t, err)
	assert.Nil(t, pl.states())
	assert.Empty(t, pl.unitPrefix())
}
