// Package esda implements exploratory spatial data analysis statistics:
// Global Moran's I, the Getis-Ord General G, and Anselin's Local Moran with
// both analytic and conditional-permutation inference, plus the
// cluster/outlier classifier applied to local results.
//
// All statistics take an attribute vector ordered like the weight matrix's
// unit ids and fail fast on length mismatches and degenerate inputs rather
// than returning NaN.
package esda

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/tractwise/hotspot-cli/internal/weights"
)

var (
	// ErrLengthMismatch reports an attribute vector whose length differs
	// from the weight matrix dimension.
	ErrLengthMismatch = eris.New("esda: attribute length does not match weight matrix")

	// ErrDegenerate reports inputs the sampling distribution cannot be
	// computed for: constant attribute vectors, all-zero products, or a
	// non-positive statistic variance.
	ErrDegenerate = eris.New("esda: degenerate input")

	// ErrNegativeValue reports a negative attribute passed to a statistic
	// defined only for non-negative values.
	ErrNegativeValue = eris.New("esda: negative attribute value")
)

// checkLength verifies x is conformant with w.
func checkLength(x []float64, w *weights.W) error {
	if len(x) != w.N() {
		return eris.Wrapf(ErrLengthMismatch, "got %d values for %d units", len(x), w.N())
	}
	return nil
}

func zScore(stat, mean, variance float64) float64 {
	return (stat - mean) / math.Sqrt(variance)
}

// center returns the mean-deviates of x along with their second and fourth
// power sums.
func center(x []float64) (z []float64, sumZ2, sumZ4 float64) {
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))

	z = make([]float64, len(x))
	for i, v := range x {
		d := v - mean
		z[i] = d
		d2 := d * d
		sumZ2 += d2
		sumZ4 += d2 * d2
	}
	return z, sumZ2, sumZ4
}
