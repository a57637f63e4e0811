package esda

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tractwise/hotspot-cli/internal/weights"
)

// gridW builds a rows x cols lattice weight matrix, numbered row-major
// from the top left, with rook or queen adjacency.
func gridW(t *testing.T, rows, cols int, rule weights.Contiguity, style weights.Style) *weights.W {
	t.Helper()

	id := func(r, c int) string { return strconv.Itoa(r*cols + c) }
	ids := make([]string, 0, rows*cols)
	nbrs := make(map[string][]string, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			ids = append(ids, id(r, c))
			var row []string
			add := func(rr, cc int) {
				if rr >= 0 && rr < rows && cc >= 0 && cc < cols {
					row = append(row, id(rr, cc))
				}
			}
			add(r-1, c)
			add(r+1, c)
			add(r, c-1)
			add(r, c+1)
			if rule == weights.Queen {
				add(r-1, c-1)
				add(r-1, c+1)
				add(r+1, c-1)
				add(r+1, c+1)
			}
			nbrs[id(r, c)] = row
		}
	}

	w, err := weights.New(ids, nbrs, weights.Options{Style: style})
	require.NoError(t, err)
	return w
}

// blockValues assigns high to the leftmost highCols columns and low to the
// rest: two homogeneous halves, strong positive autocorrelation.
func blockValues(rows, cols, highCols int, high, low float64) []float64 {
	x := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c < highCols {
				x = append(x, high)
			} else {
				x = append(x, low)
			}
		}
	}
	return x
}

// checkerValues alternates high and low like a checkerboard: every
// neighbor differs, strong negative autocorrelation.
func checkerValues(rows, cols int, high, low float64) []float64 {
	x := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if (r+c)%2 == 0 {
				x = append(x, high)
			} else {
				x = append(x, low)
			}
		}
	}
	return x
}
