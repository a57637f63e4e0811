package weights

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Contiguity selects the shared-boundary rule for neighbor detection.
type Contiguity string

const (
	// Queen links units that share at least one boundary vertex.
	Queen Contiguity = "queen"
	// Rook links units that share at least one boundary edge.
	Rook Contiguity = "rook"
)

// ParseContiguity maps a user-supplied string to a Contiguity rule.
func ParseContiguity(s string) (Contiguity, error) {
	switch Contiguity(s) {
	case Queen:
		return Queen, nil
	case Rook:
		return Rook, nil
	default:
		return "", eris.Errorf("weights: unknown contiguity %q (want queen or rook)", s)
	}
}

type vertex struct {
	x, y float64
}

// edge is an undirected boundary segment with endpoints in canonical order.
type edge struct {
	a, b vertex
}

func newEdge(p, q vertex) edge {
	if q.x < p.x || (q.x == p.x && q.y < p.y) {
		p, q = q, p
	}
	return edge{a: p, b: q}
}

// ContiguityNeighbors derives a symmetric neighbor map from polygon
// boundaries. Exact coordinate matching is used, which is correct for
// polygons digitized against a common boundary layer (census TIGER and
// cartographic boundary files qualify). ids and geoms are parallel; each
// geometry must be a Polygon or MultiPolygon.
func ContiguityNeighbors(ids []string, geoms []geom.T, rule Contiguity) (map[string][]string, error) {
	if len(ids) != len(geoms) {
		return nil, eris.Errorf("weights: %d ids but %d geometries", len(ids), len(geoms))
	}
	if rule != Queen && rule != Rook {
		return nil, eris.Errorf("weights: unknown contiguity %q", rule)
	}

	// Bucket units by shared boundary feature, then link every pair that
	// lands in the same bucket.
	vertexUnits := make(map[vertex][]int)
	edgeUnits := make(map[edge][]int)

	for i, g := range geoms {
		rings, err := boundaryRings(g)
		if err != nil {
			return nil, eris.Wrapf(err, "weights: unit %q", ids[i])
		}
		switch rule {
		case Queen:
			for _, ring := range rings {
				for _, v := range ring {
					appendUnit(vertexUnits, v, i)
				}
			}
		case Rook:
			for _, ring := range rings {
				for k := 0; k+1 < len(ring); k++ {
					p, q := ring[k], ring[k+1]
					if p == q {
						continue
					}
					appendUnit(edgeUnits, newEdge(p, q), i)
				}
			}
		}
	}

	linked := make([]map[int]bool, len(ids))
	for i := range linked {
		linked[i] = make(map[int]bool)
	}
	switch rule {
	case Queen:
		for _, units := range vertexUnits {
			linkAll(linked, units)
		}
	case Rook:
		for _, units := range edgeUnits {
			linkAll(linked, units)
		}
	}

	out := make(map[string][]string, len(ids))
	for i, id := range ids {
		nbrs := make([]int, 0, len(linked[i]))
		for j := range linked[i] {
			nbrs = append(nbrs, j)
		}
		sort.Ints(nbrs)
		names := make([]string, len(nbrs))
		for k, j := range nbrs {
			names[k] = ids[j]
		}
		out[id] = names
	}
	return out, nil
}

// appendUnit records unit i under key k, skipping consecutive duplicates
// (a unit touching its own boundary feature repeatedly).
func appendUnit[K comparable](m map[K][]int, k K, i int) {
	units := m[k]
	if len(units) > 0 && units[len(units)-1] == i {
		return
	}
	m[k] = append(units, i)
}

func linkAll(linked []map[int]bool, units []int) {
	for a := 0; a < len(units); a++ {
		for b := a + 1; b < len(units); b++ {
			i, j := units[a], units[b]
			if i == j {
				continue
			}
			linked[i][j] = true
			linked[j][i] = true
		}
	}
}

// boundaryRings flattens a polygonal geometry into its rings, outer shells
// and holes alike, as vertex sequences.
func boundaryRings(g geom.T) ([][]vertex, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonRings(t), nil
	case *geom.MultiPolygon:
		var rings [][]vertex
		for i := 0; i < t.NumPolygons(); i++ {
			rings = append(rings, polygonRings(t.Polygon(i))...)
		}
		return rings, nil
	case nil:
		return nil, eris.New("nil geometry")
	default:
		return nil, eris.Errorf("unsupported geometry type %T (want Polygon or MultiPolygon)", g)
	}
}

func polygonRings(p *geom.Polygon) [][]vertex {
	rings := make([][]vertex, 0, p.NumLinearRings())
	stride := p.Stride()
	for r := 0; r < p.NumLinearRings(); r++ {
		flat := p.LinearRing(r).FlatCoords()
		ring := make([]vertex, 0, len(flat)/stride)
		for c := 0; c+1 < len(flat); c += stride {
			ring = append(ring, vertex{x: flat[c], y: flat[c+1]})
		}
		rings = append(rings, ring)
	}
	return rings
}
