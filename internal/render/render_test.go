package render

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/internal/shapes"
)

func square(x, y float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x, y,
		x + 1, y,
		x + 1, y + 1,
		x, y + 1,
		x, y,
	}, []int{10})
}

func testRun() *model.Run {
	return &model.Run{
		ID:     "run-1",
		Params: model.RunParams{Metric: "unemployment"},
	}
}

func testResults() []model.UnitResult {
	nan := model.F(math.NaN())
	return []model.UnitResult{
		{
			GEOID: "01073000100", Name: "Census Tract 1",
			Value: model.F(30), LocalI: model.F(4.2), Z: model.F(3.9),
			P: model.F(0.0001), PSim: model.F(0.001),
			Quadrant: "HH", Label: "Cluster (strong)",
		},
		{
			GEOID: "01073000200", Name: "Census Tract 2",
			Value: model.F(8), LocalI: model.F(0.2), Z: model.F(0.4),
			P: model.F(0.34), PSim: model.F(0.31),
			Quadrant: "HH", Label: "Not Significant",
		},
		{
			GEOID: "01073990100", Name: "Census Tract 9901",
			Value: model.F(12), LocalI: nan, Z: nan, P: nan, PSim: nan,
			Label: "Not Significant", Island: true,
		},
	}
}

func testGeoms() []geom.T {
	return []geom.T{square(0, 0), square(1, 0), square(3, 0)}
}

func testDataset() *Dataset {
	ds, err := FromFrame(testRun(), testResults(), testGeoms())
	if err != nil {
		panic(err)
	}
	return ds
}

func TestNewDataset_JoinsByGEOID(t *testing.T) {
	t.Parallel()

	results := testResults()
	geoms := testGeoms()

	// Stored geometries arrive in their own order; the join is by GEOID.
	stored := make([]model.Geometry, 0, len(geoms))
	for i := len(results) - 1; i >= 0; i-- {
		ewkb, err := shapes.EncodeEWKB(geoms[i])
		require.NoError(t, err)
		stored = append(stored, model.Geometry{GEOID: results[i].GEOID, EWKB: ewkb})
	}

	ds, err := NewDataset(testRun(), results, stored)
	require.NoError(t, err)
	assert.Equal(t, "run-1", ds.RunID)
	assert.Equal(t, "unemployment", ds.Metric)
	require.Len(t, ds.Geoms, 3)

	// The island's square sits at x=3; it must line up with its result.
	rings := polygonRings(ds.Geoms[2])
	require.NotEmpty(t, rings)
	assert.InDelta(t, 3.0, rings[0][0][0], 1e-9)
}

func TestNewDataset_MissingGeometry(t *testing.T) {
	t.Parallel()

	ewkb, err := shapes.EncodeEWKB(square(0, 0))
	require.NoError(t, err)
	stored := []model.Geometry{{GEOID: "01073000100", EWKB: ewkb}}

	_, err = NewDataset(testRun(), testResults(), stored)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no geometry stored for unit 01073000200")
}

func TestFromFrame_LengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := FromFrame(testRun(), testResults(), testGeoms()[:2])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 results but 2 geometries")
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeCluster},
		{in: "cluster", want: ModeCluster},
		{in: " Value ", want: ModeValue},
		{in: "heatmap", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		want   any
	}{
		{format: "png", want: &PNG{}},
		{format: "GeoJSON", want: &GeoJSON{}},
		{format: "html", want: &HTML{}},
		{format: "csv", want: &CSV{}},
		{format: "xlsx", want: &XLSX{}},
	}
	for _, tt := range tests {
		r, err := For(tt.format, Options{})
		require.NoError(t, err, tt.format)
		assert.IsType(t, tt.want, r, tt.format)
	}

	_, err := For("pdf", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "pdf"`)
}
