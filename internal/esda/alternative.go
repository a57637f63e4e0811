package esda

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat/distuv"
)

// Alternative selects the tail of the normal sampling distribution a
// p-value is taken from.
type Alternative string

const (
	// Greater tests for values larger than expected (positive
	// autocorrelation, hot spots). This is the default.
	Greater Alternative = "greater"
	// Less tests for values smaller than expected.
	Less Alternative = "less"
	// TwoSided tests for departure in either direction.
	TwoSided Alternative = "two-sided"
)

// ParseAlternative maps a user-supplied string to an Alternative. The
// empty string selects Greater.
func ParseAlternative(s string) (Alternative, error) {
	switch Alternative(s) {
	case "":
		return Greater, nil
	case Greater, Less, TwoSided:
		return Alternative(s), nil
	default:
		return "", eris.Errorf("esda: unknown alternative %q (want greater, less, or two-sided)", s)
	}
}

// PValue converts a z-score to a p-value under the alternative.
func (a Alternative) PValue(z float64) float64 {
	switch a {
	case Less:
		return distuv.UnitNormal.CDF(z)
	case TwoSided:
		return 2 * distuv.UnitNormal.Survival(math.Abs(z))
	default:
		return distuv.UnitNormal.Survival(z)
	}
}
