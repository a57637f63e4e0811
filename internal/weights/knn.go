package weights

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/quadtree"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
)

type qtPoint struct {
	pt  orb.Point
	idx int
}

func (p qtPoint) Point() orb.Point { return p.pt }

// KNNNeighbors links each unit to the k units whose centroids are nearest
// by great-circle distance. The resulting map is directed: j being among
// i's nearest does not imply the reverse.
func KNNNeighbors(ids []string, centroids []orb.Point, k int) (map[string][]string, error) {
	if len(ids) != len(centroids) {
		return nil, eris.Errorf("weights: %d ids but %d centroids", len(ids), len(centroids))
	}
	if k < 1 {
		return nil, eris.Errorf("weights: k must be positive, got %d", k)
	}
	if k >= len(ids) {
		return nil, eris.Errorf("weights: k=%d requires at least %d units, have %d", k, k+1, len(ids))
	}

	qt := quadtree.New(pointBound(centroids))
	for i, pt := range centroids {
		if err := qt.Add(qtPoint{pt: pt, idx: i}); err != nil {
			return nil, eris.Wrapf(err, "weights: index centroid for %q", ids[i])
		}
	}

	out := make(map[string][]string, len(ids))
	buf := make([]orb.Pointer, 0, k+1)
	for i, pt := range centroids {
		// The query point itself is in the tree, so fetch one extra and
		// drop it. Coincident centroids can shadow self, hence the index
		// check rather than a distance check.
		found := qt.KNearest(buf[:0], pt, k+1)
		cand := make([]int, 0, len(found))
		for _, f := range found {
			j := f.(qtPoint).idx
			if j == i {
				continue
			}
			cand = append(cand, j)
		}
		if len(cand) > k {
			cand = nearestK(pt, centroids, cand, k)
		}
		names := make([]string, len(cand))
		for c, j := range cand {
			names[c] = ids[j]
		}
		out[ids[i]] = names
	}
	return out, nil
}

// nearestK orders candidate indices by distance from pt and keeps the
// closest k.
func nearestK(pt orb.Point, centroids []orb.Point, cand []int, k int) []int {
	dists := make([]float64, len(cand))
	for c, j := range cand {
		dists[c] = geo.Distance(pt, centroids[j])
	}
	order := make([]int, len(cand))
	floats.Argsort(dists, order)
	keep := make([]int, k)
	for c := 0; c < k; c++ {
		keep[c] = cand[order[c]]
	}
	return keep
}

// DistanceBandNeighbors links units whose centroids lie within meters of
// each other. The map is symmetric by construction.
func DistanceBandNeighbors(ids []string, centroids []orb.Point, meters float64) (map[string][]string, error) {
	if len(ids) != len(centroids) {
		return nil, eris.Errorf("weights: %d ids but %d centroids", len(ids), len(centroids))
	}
	if meters <= 0 {
		return nil, eris.Errorf("weights: distance band must be positive, got %g", meters)
	}

	qt := quadtree.New(pointBound(centroids))
	for i, pt := range centroids {
		if err := qt.Add(qtPoint{pt: pt, idx: i}); err != nil {
			return nil, eris.Wrapf(err, "weights: index centroid for %q", ids[i])
		}
	}

	out := make(map[string][]string, len(ids))
	for i, pt := range centroids {
		names := make([]string, 0, 8)
		for _, f := range qt.InBound(nil, searchBound(pt, meters)) {
			j := f.(qtPoint).idx
			if j == i {
				continue
			}
			if geo.Distance(pt, centroids[j]) <= meters {
				names = append(names, ids[j])
			}
		}
		out[ids[i]] = names
	}
	return out, nil
}

func pointBound(pts []orb.Point) orb.Bound {
	b := orb.Bound{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		b = b.Extend(p)
	}
	// Pad so points on the boundary index cleanly.
	return b.Pad(0.0001)
}

// searchBound is a lon/lat box guaranteed to contain every point within
// meters of pt. Candidates inside it still get exact distance checks, so
// the box only has to be conservative: the longitude span comes from the
// haversine inverse at the smallest cosine the latitude band can reach.
func searchBound(pt orb.Point, meters float64) orb.Bound {
	dLat := meters / orb.EarthRadius * 180 / math.Pi
	lo, hi := pt[1]-dLat, pt[1]+dLat

	dLon := 360.0
	if edge := math.Max(math.Abs(lo), math.Abs(hi)); edge < 90 {
		s := math.Sin(meters / (2 * orb.EarthRadius)) /
			math.Sqrt(math.Cos(pt[1]*math.Pi/180)*math.Cos(edge*math.Pi/180))
		if s < 1 {
			dLon = 2 * math.Asin(s) * 180 / math.Pi
		}
	}
	return orb.Bound{
		Min: orb.Point{pt[0] - dLon, lo},
		Max: orb.Point{pt[0] + dLon, hi},
	}
}
