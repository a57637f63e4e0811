package esda

import (
	"github.com/rotisserie/eris"

	"github.com/tractwise/hotspot-cli/internal/weights"
)

// GResult holds the Getis-Ord General G statistic and its randomization
// moments.
type GResult struct {
	N           int
	G           float64
	EG          float64
	Var         float64
	Z           float64
	P           float64
	Alternative Alternative
}

// GeneralG computes the Getis-Ord (1992) General G statistic,
// G = sum_ij w_ij x_i x_j / sum_ij x_i x_j over i != j. G is defined for
// binary weights; matrices in other styles are transformed internally, so
// the caller's w is never modified. All attribute values must be
// non-negative since G measures concentration of a positive quantity.
func GeneralG(x []float64, w *weights.W, alt Alternative) (*GResult, error) {
	if err := checkLength(x, w); err != nil {
		return nil, err
	}
	if w.N() < 4 {
		return nil, eris.Wrapf(ErrDegenerate, "randomization moments need at least 4 units, have %d", w.N())
	}
	if alt == "" {
		alt = Greater
	}

	ids := w.IDs()
	for i, v := range x {
		if v < 0 {
			return nil, eris.Wrapf(ErrNegativeValue, "unit %q has value %g", ids[i], v)
		}
	}

	if w.Style() != weights.StyleBinary {
		var err error
		w, err = w.Transformed(weights.StyleBinary)
		if err != nil {
			return nil, err
		}
	}

	n := float64(w.N())
	s0, s1, s2 := w.S0(), w.S1(), w.S2()
	if s0 == 0 {
		return nil, eris.Wrap(ErrDegenerate, "weight matrix has zero total weight")
	}

	var num float64
	for i := 0; i < w.N(); i++ {
		for _, j := range w.Neighbors(i) {
			num += x[i] * x[j]
		}
	}

	// Raw moments of x. The cross-product denominator is m1^2 - m2, which
	// is zero only when at most one value is non-zero.
	var m1, m2, m3, m4 float64
	for _, v := range x {
		m1 += v
		m2 += v * v
		m3 += v * v * v
		m4 += v * v * v * v
	}
	den := m1*m1 - m2
	if den == 0 {
		return nil, eris.Wrap(ErrDegenerate, "all pairwise attribute products are zero")
	}

	r := &GResult{
		N:           w.N(),
		G:           num / den,
		EG:          s0 / (n * (n - 1)),
		Alternative: alt,
	}

	s02 := s0 * s0
	b0 := (n*n-3*n+3)*s1 - n*s2 + 3*s02
	b1 := -((n*n - n) * s1 - 2*n*s2 + 6*s02)
	b2 := -(2*n*s1 - (n+3)*s2 + 6*s02)
	b3 := 4*(n-1)*s1 - 2*(n+1)*s2 + 8*s02
	b4 := s1 - s2 + s02

	eg2 := (b0*m2*m2 + b1*m4 + b2*m1*m1*m2 + b3*m1*m3 + b4*m1*m1*m1*m1) /
		(den * den * n * (n - 1) * (n - 2) * (n - 3))
	r.Var = eg2 - r.EG*r.EG
	if r.Var <= 0 {
		return nil, eris.Wrapf(ErrDegenerate, "sampling variance of G is not positive (%g)", r.Var)
	}

	r.Z = zScore(r.G, r.EG, r.Var)
	r.P = alt.PValue(r.Z)
	return r, nil
}
