package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/tractwise/hotspot-cli/internal/model"
)

func pixelAt(t *testing.T, data []byte, x, y int) (uint8, uint8, uint8) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := img.At(x, y).RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}

func TestPNG_ClusterMode(t *testing.T) {
	t.Parallel()

	// One hot unit filling most of the canvas.
	ds, err := FromFrame(testRun(), testResults()[:1], testGeoms()[:1])
	require.NoError(t, err)

	var buf bytes.Buffer
	r := &PNG{opts: Options{Mode: ModeCluster, Width: 200, Height: 150}}
	require.NoError(t, r.Render(ds, &buf))

	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())

	// Center of the strong HH cluster fill: #a50026.
	cr, cg, cb := pixelAt(t, buf.Bytes(), 100, 75)
	assert.InDelta(t, 0xa5, cr, 3)
	assert.InDelta(t, 0x00, cg, 3)
	assert.InDelta(t, 0x26, cb, 3)

	// Corners stay on the white background.
	wr, wg, wb := pixelAt(t, buf.Bytes(), 2, 2)
	assert.Equal(t, uint8(255), wr)
	assert.Equal(t, uint8(255), wg)
	assert.Equal(t, uint8(255), wb)
}

func TestPNG_ValueMode(t *testing.T) {
	t.Parallel()

	// Two adjacent squares holding the range endpoints.
	results := []model.UnitResult{
		{GEOID: "a", Value: model.F(0), Label: "Not Significant"},
		{GEOID: "b", Value: model.F(100), Label: "Not Significant"},
	}
	geoms := []geom.T{square(0, 0), square(1, 0)}
	ds, err := FromFrame(testRun(), results, geoms)
	require.NoError(t, err)

	var buf bytes.Buffer
	r := &PNG{opts: Options{Mode: ModeValue, Width: 200, Height: 100}}
	require.NoError(t, r.Render(ds, &buf))

	// Inner area 176x76, extent 2x1, scale 76: squares span x 24..100
	// and 100..176, y 12..88.
	lr, lg, lb := pixelAt(t, buf.Bytes(), 62, 50)
	assert.InDelta(t, 0x5e, lr, 3)
	assert.InDelta(t, 0x4f, lg, 3)
	assert.InDelta(t, 0xa2, lb, 3)

	rr, rg, rb := pixelAt(t, buf.Bytes(), 138, 50)
	assert.InDelta(t, 0x9e, rr, 3)
	assert.InDelta(t, 0x01, rg, 3)
	assert.InDelta(t, 0x42, rb, 3)
}

func TestPNG_DefaultCanvas(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := &PNG{opts: Options{Mode: ModeCluster}}
	require.NoError(t, r.Render(testDataset(), &buf))

	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, defaultCanvas, img.Bounds().Dx())
	assert.Equal(t, defaultCanvas, img.Bounds().Dy())
}

func TestPolygonRings(t *testing.T) {
	t.Parallel()

	// A square with a hole: two rings.
	holed := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 4, 0, 4, 4, 0, 4, 0, 0,
		1, 1, 3, 1, 3, 3, 1, 3, 1, 1,
	}, []int{10, 20})
	rings := polygonRings(holed)
	require.Len(t, rings, 2)
	assert.Len(t, rings[0], 5)
	assert.Len(t, rings[1], 5)

	// A multipolygon of two squares: two rings with distinct origins.
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(square(0, 0)))
	require.NoError(t, mp.Push(square(5, 5)))
	rings = polygonRings(mp)
	require.Len(t, rings, 2)
	assert.InDelta(t, 0.0, rings[0][0][0], 1e-9)
	assert.InDelta(t, 5.0, rings[1][0][0], 1e-9)

	// Non-polygonal geometry draws nothing.
	assert.Nil(t, polygonRings(geom.NewPointFlat(geom.XY, []float64{1, 2})))
}

func TestDatasetBounds_Empty(t *testing.T) {
	t.Parallel()

	_, err := datasetBounds([]geom.T{geom.NewPointFlat(geom.XY, []float64{1, 2})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no polygonal geometry")
}
