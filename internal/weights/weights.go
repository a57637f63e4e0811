// Package weights builds spatial neighbor graphs and weight matrices for
// areal units, supporting contiguity, k-nearest-neighbor, and distance-band
// definitions with binary or row-standardized weighting.
package weights

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// Style selects how raw neighbor links are weighted.
type Style string

const (
	// StyleBinary assigns weight 1 to every neighbor link.
	StyleBinary Style = "B"
	// StyleRow standardizes each row so its weights sum to 1.
	// Rows with no neighbors sum to 0.
	StyleRow Style = "W"
)

// ParseStyle maps a user-supplied name to a Style. The empty string
// selects row standardization.
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "row", "w":
		return StyleRow, nil
	case "binary", "b":
		return StyleBinary, nil
	default:
		return "", eris.Errorf("weights: unknown style %q (want row or binary)", s)
	}
}

// IslandError reports units with no neighbors when islands are not allowed.
type IslandError struct {
	IDs []string
}

func (e *IslandError) Error() string {
	sample := e.IDs
	suffix := ""
	if len(sample) > 5 {
		sample = sample[:5]
		suffix = ", ..."
	}
	return fmt.Sprintf("weights: %d unit(s) have no neighbors: %s%s (set allow_islands to zero-weight them)",
		len(e.IDs), strings.Join(sample, ", "), suffix)
}

// Options configures matrix construction.
type Options struct {
	// Style defaults to StyleRow.
	Style Style

	// AllowIslands permits units with no neighbors. When false (the
	// default) construction fails with an IslandError naming them.
	AllowIslands bool
}

// W is an immutable spatial weights matrix in sparse row form. Unit order
// matches the ids passed at construction and is the order all attribute
// vectors must follow.
type W struct {
	ids       []string
	index     map[string]int
	neighbors [][]int
	weights   [][]float64
	lookup    []map[int]float64
	islands   []int
	style     Style

	s0, s1, s2 float64
}

// New builds a weights matrix from a neighbor map keyed by unit id.
// Every neighbor must itself be a listed unit and self-links are rejected.
// The neighbor map does not have to be symmetric (k-nearest-neighbor graphs
// are not), but contiguity builders always produce symmetric maps.
func New(ids []string, neighbors map[string][]string, opts Options) (*W, error) {
	if len(ids) == 0 {
		return nil, eris.New("weights: no units")
	}

	style := opts.Style
	if style == "" {
		style = StyleRow
	}
	if style != StyleBinary && style != StyleRow {
		return nil, eris.Errorf("weights: unknown style %q", style)
	}

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := index[id]; dup {
			return nil, eris.Errorf("weights: duplicate unit id %q", id)
		}
		index[id] = i
	}

	w := &W{
		ids:       append([]string(nil), ids...),
		index:     index,
		neighbors: make([][]int, len(ids)),
		weights:   make([][]float64, len(ids)),
		lookup:    make([]map[int]float64, len(ids)),
		style:     style,
	}

	for i, id := range ids {
		nbrIDs := neighbors[id]
		row := make([]int, 0, len(nbrIDs))
		seen := make(map[int]bool, len(nbrIDs))
		for _, nid := range nbrIDs {
			j, ok := index[nid]
			if !ok {
				return nil, eris.Errorf("weights: unit %q names unknown neighbor %q", id, nid)
			}
			if j == i {
				return nil, eris.Errorf("weights: unit %q lists itself as a neighbor", id)
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			row = append(row, j)
		}
		sort.Ints(row)
		w.neighbors[i] = row
		if len(row) == 0 {
			w.islands = append(w.islands, i)
		}
	}

	if len(w.islands) > 0 && !opts.AllowIslands {
		islandIDs := make([]string, len(w.islands))
		for k, i := range w.islands {
			islandIDs[k] = ids[i]
		}
		return nil, &IslandError{IDs: islandIDs}
	}

	w.assignWeights()
	w.computeMoments()
	return w, nil
}

func (w *W) assignWeights() {
	for i, row := range w.neighbors {
		wts := make([]float64, len(row))
		lk := make(map[int]float64, len(row))
		var v float64
		switch w.style {
		case StyleBinary:
			v = 1
		case StyleRow:
			if len(row) > 0 {
				v = 1 / float64(len(row))
			}
		}
		for k, j := range row {
			wts[k] = v
			lk[j] = v
		}
		w.weights[i] = wts
		w.lookup[i] = lk
	}
}

// computeMoments derives the S0, S1, S2 sums used by the global statistics:
// S0 is the sum of all weights, S1 = 1/2 sum_ij (w_ij + w_ji)^2, and
// S2 = sum_i (rowsum_i + colsum_i)^2.
func (w *W) computeMoments() {
	n := len(w.ids)
	rowSums := make([]float64, n)
	colSums := make([]float64, n)

	for i, row := range w.neighbors {
		for k, j := range row {
			wij := w.weights[i][k]
			w.s0 += wij
			rowSums[i] += wij
			colSums[j] += wij

			wji := w.lookup[j][i]
			// Count each unordered pair once: when the reverse link is
			// absent this visit is the only one, otherwise keep the i<j
			// visit and skip the mirror.
			if wji == 0 || i < j {
				d := wij + wji
				w.s1 += d * d
			}
		}
	}

	for i := range rowSums {
		t := rowSums[i] + colSums[i]
		w.s2 += t * t
	}
}

// N returns the number of units.
func (w *W) N() int { return len(w.ids) }

// IDs returns the unit ids in matrix order.
func (w *W) IDs() []string { return append([]string(nil), w.ids...) }

// Style returns the weighting style.
func (w *W) Style() Style { return w.style }

// Index returns the matrix position of a unit id.
func (w *W) Index(id string) (int, bool) {
	i, ok := w.index[id]
	return i, ok
}

// Neighbors returns the neighbor positions of unit i in ascending order.
func (w *W) Neighbors(i int) []int {
	return append([]int(nil), w.neighbors[i]...)
}

// Weights returns the weights of unit i aligned with Neighbors(i).
func (w *W) Weights(i int) []float64 {
	return append([]float64(nil), w.weights[i]...)
}

// Weight returns w_ij, or 0 when j is not a neighbor of i.
func (w *W) Weight(i, j int) float64 { return w.lookup[i][j] }

// RowSum returns the sum of weights in row i.
func (w *W) RowSum(i int) float64 {
	var s float64
	for _, v := range w.weights[i] {
		s += v
	}
	return s
}

// Islands returns the ids of units with no neighbors.
func (w *W) Islands() []string {
	out := make([]string, len(w.islands))
	for k, i := range w.islands {
		out[k] = w.ids[i]
	}
	return out
}

// S0 returns the sum of all weights.
func (w *W) S0() float64 { return w.s0 }

// S1 returns 1/2 sum_ij (w_ij + w_ji)^2.
func (w *W) S1() float64 { return w.s1 }

// S2 returns sum_i (rowsum_i + colsum_i)^2.
func (w *W) S2() float64 { return w.s2 }

// Lag computes the spatial lag of x: lag_i = sum_j w_ij x_j.
// x must be ordered like IDs().
func (w *W) Lag(x []float64) ([]float64, error) {
	if len(x) != len(w.ids) {
		return nil, eris.Errorf("weights: lag vector has %d values, matrix has %d units", len(x), len(w.ids))
	}
	lag := make([]float64, len(x))
	for i, row := range w.neighbors {
		var s float64
		for k, j := range row {
			s += w.weights[i][k] * x[j]
		}
		lag[i] = s
	}
	return lag, nil
}

// Transformed returns a new matrix over the same neighbor graph with a
// different weighting style. Islands are carried over unchanged.
func (w *W) Transformed(style Style) (*W, error) {
	if style != StyleBinary && style != StyleRow {
		return nil, eris.Errorf("weights: unknown style %q", style)
	}
	out := &W{
		ids:       w.ids,
		index:     w.index,
		neighbors: w.neighbors,
		weights:   make([][]float64, len(w.ids)),
		lookup:    make([]map[int]float64, len(w.ids)),
		islands:   w.islands,
		style:     style,
	}
	out.assignWeights()
	out.computeMoments()
	return out, nil
}

// Full materializes the matrix as a dense gonum matrix. Intended for
// small-n cross-checks, not production paths.
func (w *W) Full() *mat.Dense {
	n := len(w.ids)
	m := mat.NewDense(n, n, nil)
	for i, row := range w.neighbors {
		for k, j := range row {
			m.Set(i, j, w.weights[i][k])
		}
	}
	return m
}

// Summary describes the neighbor structure of a matrix.
type Summary struct {
	N             int
	Style         Style
	MinNeighbors  int
	MaxNeighbors  int
	MeanNeighbors float64
	Islands       []string
	S0, S1, S2    float64
	PctNonZero    float64
}

// Summarize reports neighbor cardinality statistics and the moment sums.
func (w *W) Summarize() Summary {
	s := Summary{
		N:       len(w.ids),
		Style:   w.style,
		Islands: w.Islands(),
		S0:      w.s0,
		S1:      w.s1,
		S2:      w.s2,
	}
	if s.N == 0 {
		return s
	}
	s.MinNeighbors = len(w.neighbors[0])
	var total int
	for _, row := range w.neighbors {
		c := len(row)
		total += c
		if c < s.MinNeighbors {
			s.MinNeighbors = c
		}
		if c > s.MaxNeighbors {
			s.MaxNeighbors = c
		}
	}
	s.MeanNeighbors = float64(total) / float64(s.N)
	s.PctNonZero = float64(total) / float64(s.N*s.N) * 100
	return s
}
