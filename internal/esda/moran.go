package esda

import (
	"github.com/rotisserie/eris"

	"github.com/tractwise/hotspot-cli/internal/weights"
)

// MoranResult holds Global Moran's I with its sampling moments under both
// the normality and randomization assumptions.
type MoranResult struct {
	N  int
	I  float64
	EI float64

	// Normality assumption.
	VarNorm float64
	ZNorm   float64
	PNorm   float64

	// Randomization assumption (kurtosis-corrected).
	VarRand float64
	ZRand   float64
	PRand   float64

	Alternative Alternative
}

// GlobalMoran computes Moran's I for attribute x over w, following Cliff
// and Ord (1981): I = (n/S0) * sum_ij w_ij z_i z_j / sum z_i^2 with
// z the mean deviates of x. Expectation is -1/(n-1) regardless of x, and
// variance is reported under both the normality and the randomization
// assumptions, the latter correcting for the sample kurtosis of z.
func GlobalMoran(x []float64, w *weights.W, alt Alternative) (*MoranResult, error) {
	if err := checkLength(x, w); err != nil {
		return nil, err
	}
	n := float64(w.N())
	if w.N() < 4 {
		return nil, eris.Wrapf(ErrDegenerate, "randomization moments need at least 4 units, have %d", w.N())
	}
	if alt == "" {
		alt = Greater
	}

	s0, s1, s2 := w.S0(), w.S1(), w.S2()
	if s0 == 0 {
		return nil, eris.Wrap(ErrDegenerate, "weight matrix has zero total weight")
	}

	z, sumZ2, sumZ4 := center(x)
	if sumZ2 == 0 {
		return nil, eris.Wrap(ErrDegenerate, "attribute vector is constant")
	}

	lag, err := w.Lag(z)
	if err != nil {
		return nil, err
	}
	var num float64
	for i, zi := range z {
		num += zi * lag[i]
	}

	r := &MoranResult{
		N:           w.N(),
		I:           (n / s0) * (num / sumZ2),
		EI:          -1 / (n - 1),
		Alternative: alt,
	}

	ei2 := r.EI * r.EI
	s02 := s0 * s0

	r.VarNorm = (n*n*s1-n*s2+3*s02)/((n-1)*(n+1)*s02) - ei2

	b2 := n * sumZ4 / (sumZ2 * sumZ2)
	a := n * ((n*n-3*n+3)*s1 - n*s2 + 3*s02)
	b := b2 * ((n*n-n)*s1 - 2*n*s2 + 6*s02)
	r.VarRand = (a-b)/((n-1)*(n-2)*(n-3)*s02) - ei2

	if r.VarNorm <= 0 || r.VarRand <= 0 {
		return nil, eris.Wrapf(ErrDegenerate,
			"sampling variance of I is not positive (normality %g, randomization %g)",
			r.VarNorm, r.VarRand)
	}

	r.ZNorm = zScore(r.I, r.EI, r.VarNorm)
	r.ZRand = zScore(r.I, r.EI, r.VarRand)
	r.PNorm = alt.PValue(r.ZNorm)
	r.PRand = alt.PValue(r.ZRand)
	return r, nil
}
