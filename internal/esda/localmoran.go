package esda

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"

	"github.com/tractwise/hotspot-cli/internal/weights"
)

// defaultSeed keeps permutation inference reproducible when the caller
// does not supply a seed.
const defaultSeed int64 = 1042

// Quadrant places a unit on the Moran scatterplot by the signs of its
// deviate and its spatial lag.
type Quadrant int

const (
	// QuadrantNone marks units the quadrant is undefined for (islands).
	QuadrantNone Quadrant = iota
	// QuadrantHH is a high value surrounded by high values.
	QuadrantHH
	// QuadrantLH is a low value surrounded by high values.
	QuadrantLH
	// QuadrantLL is a low value surrounded by low values.
	QuadrantLL
	// QuadrantHL is a high value surrounded by low values.
	QuadrantHL
)

func (q Quadrant) String() string {
	switch q {
	case QuadrantHH:
		return "HH"
	case QuadrantLH:
		return "LH"
	case QuadrantLL:
		return "LL"
	case QuadrantHL:
		return "HL"
	default:
		return ""
	}
}

func quadrantOf(z, lag float64) Quadrant {
	switch {
	case z > 0 && lag > 0:
		return QuadrantHH
	case z <= 0 && lag > 0:
		return QuadrantLH
	case z <= 0 && lag <= 0:
		return QuadrantLL
	default:
		return QuadrantHL
	}
}

// LocalOptions configures Local Moran inference.
type LocalOptions struct {
	// Alternative applies uniformly to every unit. Defaults to Greater.
	Alternative Alternative

	// Permutations enables conditional permutation inference when
	// positive. Zero skips it, leaving PSim as NaN.
	Permutations int

	// Seed fixes the permutation RNG. Zero selects a package default so
	// repeated runs agree.
	Seed int64
}

// LocalUnit is the Local Moran record for one unit, in input order.
type LocalUnit struct {
	ID       string
	I        float64
	EI       float64
	Var      float64
	Z        float64
	P        float64
	PSim     float64
	Quadrant Quadrant
}

// LocalResult holds per-unit Local Moran statistics.
type LocalResult struct {
	N            int
	Alternative  Alternative
	Permutations int
	Seed         int64
	Units        []LocalUnit
}

// LocalMoran computes Anselin's Local Moran I_i = (z_i/m2) sum_j w_ij z_j
// for every unit, with analytic moments under randomization (Sokal,
// Oden and Thomson 1998) and, when opts.Permutations is positive,
// conditional permutation p-values: z_i stays fixed while its neighbors
// are drawn from the remaining units.
//
// Islands and units whose analytic variance is not positive (complete
// neighbor graphs) get NaN for Z and P rather than failing the run; the
// classifier treats NaN p-values as not significant.
func LocalMoran(x []float64, w *weights.W, opts LocalOptions) (*LocalResult, error) {
	if err := checkLength(x, w); err != nil {
		return nil, err
	}
	if w.N() < 4 {
		return nil, eris.Wrapf(ErrDegenerate, "randomization moments need at least 4 units, have %d", w.N())
	}
	if opts.Permutations < 0 {
		return nil, eris.Errorf("esda: permutations must be non-negative, got %d", opts.Permutations)
	}
	alt := opts.Alternative
	if alt == "" {
		alt = Greater
	}
	seed := opts.Seed
	if seed == 0 {
		seed = defaultSeed
	}

	n := float64(w.N())
	z, sumZ2, sumZ4 := center(x)
	if sumZ2 == 0 {
		return nil, eris.Wrap(ErrDegenerate, "attribute vector is constant")
	}
	m2 := sumZ2 / n
	b2 := (sumZ4 / n) / (m2 * m2)

	lag, err := w.Lag(z)
	if err != nil {
		return nil, err
	}

	res := &LocalResult{
		N:            w.N(),
		Alternative:  alt,
		Permutations: opts.Permutations,
		Seed:         seed,
		Units:        make([]LocalUnit, w.N()),
	}

	ids := w.IDs()
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	pool := make([]int, w.N()-1)

	for i := range res.Units {
		u := &res.Units[i]
		u.ID = ids[i]
		u.PSim = math.NaN()

		if len(w.Neighbors(i)) == 0 {
			u.Z = math.NaN()
			u.P = math.NaN()
			u.Quadrant = QuadrantNone
			continue
		}

		u.I = z[i] / m2 * lag[i]
		u.Quadrant = quadrantOf(z[i], lag[i])

		wi := w.RowSum(i)
		var wi2 float64
		for _, v := range w.Weights(i) {
			wi2 += v * v
		}
		u.EI = -wi / (n - 1)
		u.Var = wi2*(n-b2)/(n-1) +
			(wi*wi-wi2)*(2*b2-n)/((n-1)*(n-2)) -
			wi*wi/((n-1)*(n-1))

		if u.Var > 0 {
			u.Z = zScore(u.I, u.EI, u.Var)
			u.P = alt.PValue(u.Z)
		} else {
			u.Z = math.NaN()
			u.P = math.NaN()
		}

		if opts.Permutations > 0 {
			u.PSim = permutedP(rng, pool, z, w, i, u.I, m2, alt, opts.Permutations)
		}
	}
	return res, nil
}

// permutedP draws opts.Permutations conditional samples for unit i: the
// unit keeps its own deviate while neighbor values are sampled without
// replacement from every other unit. A partial Fisher-Yates pass over the
// shared pool yields each draw; reshuffling an already-shuffled pool is
// still a uniform draw, so the pool is never reset.
func permutedP(rng *rand.Rand, pool []int, z []float64, w *weights.W, i int, observed, m2 float64, alt Alternative, permutations int) float64 {
	wts := w.Weights(i)
	k := len(wts)

	p := 0
	for j := range z {
		if j == i {
			continue
		}
		pool[p] = j
		p++
	}

	var geq, leq int
	for rep := 0; rep < permutations; rep++ {
		var permLag float64
		for t := 0; t < k; t++ {
			r := t + rng.IntN(len(pool)-t)
			pool[t], pool[r] = pool[r], pool[t]
			permLag += wts[t] * z[pool[t]]
		}
		sim := z[i] / m2 * permLag
		if sim >= observed {
			geq++
		}
		if sim <= observed {
			leq++
		}
	}

	pGreater := float64(1+geq) / float64(permutations+1)
	pLess := float64(1+leq) / float64(permutations+1)
	switch alt {
	case Less:
		return pLess
	case TwoSided:
		return math.Min(2*math.Min(pGreater, pLess), 1)
	default:
		return pGreater
	}
}
