package esda

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tractwise/hotspot-cli/internal/weights"
)

func TestLocalMoranBlock(t *testing.T) {
	w := gridW(t, 4, 4, weights.Rook, weights.StyleRow)
	x := blockValues(4, 4, 2, 10, 1)

	res, err := LocalMoran(x, w, LocalOptions{})
	require.NoError(t, err)
	require.Len(t, res.Units, 16)
	assert.Equal(t, Greater, res.Alternative)
	assert.Equal(t, 0, res.Permutations)

	// Units come back in matrix order.
	for i, u := range res.Units {
		assert.Equal(t, strconv.Itoa(i), u.ID)
	}

	// Corner of the high block: deviate 4.5, lag 4.5, m2 = 20.25.
	corner := res.Units[0]
	assert.InDelta(t, 1.0, corner.I, 1e-12)
	assert.InDelta(t, -1.0/15.0, corner.EI, 1e-12)
	assert.InDelta(t, 0.4622222, corner.Var, 1e-6)
	assert.InDelta(t, 1.56893, corner.Z, 1e-4)
	assert.InDelta(t, 0.0583, corner.P, 1e-3)
	assert.Equal(t, QuadrantHH, corner.Quadrant)

	// Top edge of the high block borders the low block: one opposing
	// neighbor out of three.
	edge := res.Units[1]
	assert.InDelta(t, 1.0/3.0, edge.I, 1e-12)
	assert.InDelta(t, 0.75, edge.Z, 1e-9)
	assert.Equal(t, QuadrantHH, edge.Quadrant)

	// Interior of the high block: one of four neighbors opposes.
	interior := res.Units[5]
	assert.InDelta(t, 0.5, interior.I, 1e-12)
	assert.Equal(t, QuadrantHH, interior.Quadrant)

	// Low-block units mirror into the LL quadrant.
	assert.Equal(t, QuadrantLL, res.Units[2].Quadrant)
	assert.Equal(t, QuadrantLL, res.Units[15].Quadrant)

	// Permutation p-values were not requested.
	assert.True(t, math.IsNaN(corner.PSim))
}

// TestLocalMoranSumIdentity checks sum(I_i) = I * S0 against the global
// statistic.
func TestLocalMoranSumIdentity(t *testing.T) {
	w := gridW(t, 4, 4, weights.Rook, weights.StyleRow)
	x := blockValues(4, 4, 2, 10, 1)

	local, err := LocalMoran(x, w, LocalOptions{})
	require.NoError(t, err)
	global, err := GlobalMoran(x, w, Greater)
	require.NoError(t, err)

	var sum float64
	for _, u := range local.Units {
		sum += u.I
	}
	assert.InDelta(t, global.I*w.S0(), sum, 1e-9)
}

func TestLocalMoranPermutations(t *testing.T) {
	w := gridW(t, 4, 4, weights.Rook, weights.StyleRow)
	x := blockValues(4, 4, 2, 10, 1)

	a, err := LocalMoran(x, w, LocalOptions{Permutations: 199, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, 199, a.Permutations)
	assert.EqualValues(t, 7, a.Seed)

	for _, u := range a.Units {
		require.False(t, math.IsNaN(u.PSim), "unit %s", u.ID)
		assert.Greater(t, u.PSim, 0.0)
		assert.LessOrEqual(t, u.PSim, 1.0)
	}

	// Same seed, same p-values.
	b, err := LocalMoran(x, w, LocalOptions{Permutations: 199, Seed: 7})
	require.NoError(t, err)
	for i := range a.Units {
		assert.Equal(t, a.Units[i].PSim, b.Units[i].PSim, "unit %s", a.Units[i].ID)
	}

	// The zero seed falls back to a fixed default, so unseeded runs
	// also reproduce.
	c, err := LocalMoran(x, w, LocalOptions{Permutations: 199})
	require.NoError(t, err)
	d, err := LocalMoran(x, w, LocalOptions{Permutations: 199})
	require.NoError(t, err)
	assert.NotZero(t, c.Seed)
	for i := range c.Units {
		assert.Equal(t, c.Units[i].PSim, d.Units[i].PSim)
	}
}

func TestLocalMoranIsland(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "lone"}
	nbrs := map[string][]string{
		"a": {"b"},
		"b": {"a", "c"},
		"c": {"b", "d"},
		"d": {"c"},
	}
	w, err := weights.New(ids, nbrs, weights.Options{AllowIslands: true})
	require.NoError(t, err)

	res, err := LocalMoran([]float64{1, 2, 3, 4, 5}, w, LocalOptions{Permutations: 99})
	require.NoError(t, err)

	lone := res.Units[4]
	assert.Equal(t, "lone", lone.ID)
	assert.Zero(t, lone.I)
	assert.True(t, math.IsNaN(lone.Z))
	assert.True(t, math.IsNaN(lone.P))
	assert.True(t, math.IsNaN(lone.PSim))
	assert.Equal(t, QuadrantNone, lone.Quadrant)
	assert.Equal(t, "", lone.Quadrant.String())

	// Connected units are unaffected by the island.
	assert.False(t, math.IsNaN(res.Units[0].Z))
}

func TestLocalMoranCompleteGraph(t *testing.T) {
	// Queen contiguity on a 2x2 grid is a complete graph: conditioning on
	// z_i leaves nothing to permute and the analytic variance collapses,
	// so inference degrades to NaN / p=1 instead of failing.
	w := gridW(t, 2, 2, weights.Queen, weights.StyleRow)
	res, err := LocalMoran([]float64{10, 10, 1, 1}, w, LocalOptions{Permutations: 99})
	require.NoError(t, err)

	for _, u := range res.Units {
		assert.True(t, math.IsNaN(u.Z), "unit %s", u.ID)
		assert.True(t, math.IsNaN(u.P), "unit %s", u.ID)
		assert.InDelta(t, 1.0, u.PSim, 1e-12, "unit %s", u.ID)
	}
}

func TestLocalMoranErrors(t *testing.T) {
	w := gridW(t, 2, 2, weights.Rook, weights.StyleRow)

	t.Run("length mismatch", func(t *testing.T) {
		_, err := LocalMoran([]float64{1, 2, 3}, w, LocalOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLengthMismatch))
	})

	t.Run("constant vector", func(t *testing.T) {
		_, err := LocalMoran([]float64{2, 2, 2, 2}, w, LocalOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDegenerate))
	})

	t.Run("negative permutations", func(t *testing.T) {
		_, err := LocalMoran([]float64{1, 2, 3, 4}, w, LocalOptions{Permutations: -1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-negative")
	})
}
