package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tractwise/hotspot-cli/internal/esda"
	"github.com/tractwise/hotspot-cli/internal/model"
	"github.com/tractwise/hotspot-cli/pkg/acs"
)

// topUnitCount caps the per-unit listing in the report.
const topUnitCount = 10

// FormatReport renders a completed run as a human-readable Markdown
// report: extent, weights, global statistics, cluster counts and the
// strongest local units.
func FormatReport(res *Result) string {
	var b strings.Builder
	pr := message.NewPrinter(language.English)
	params := res.Run.Params

	fmt.Fprintf(&b, "# Hotspot Analysis: %s\n", params.Metric)
	fmt.Fprintf(&b, "Run: %s\n", res.Run.ID)
	b.WriteString(extentLine(params))
	fmt.Fprintf(&b, "Vintage: %d %s\n\n", yearOf(params), datasetOf(params))

	b.WriteString("## Data\n")
	pr.Fprintf(&b, "- Units analyzed: %d\n", res.Summary.Units)
	if res.Summary.Dropped > 0 {
		pr.Fprintf(&b, "- Dropped (invalid value): %d\n", res.Summary.Dropped)
	}
	if n := len(res.Summary.Islands); n > 0 {
		pr.Fprintf(&b, "- Islands (no neighbors): %d (%s)\n", n, sampleList(res.Summary.Islands))
	}
	b.WriteString("\n")

	b.WriteString("## Weights\n")
	fmt.Fprintf(&b, "- Rule: %s\n", ruleLine(params))
	fmt.Fprintf(&b, "- Style: %s\n", styleLine(params))
	if params.Permutations > 0 {
		pr.Fprintf(&b, "- Permutations: %d", params.Permutations)
		if params.Seed != 0 {
			fmt.Fprintf(&b, " (seed %d)", params.Seed)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("- Permutations: none (analytical inference only)\n")
	}
	b.WriteString("\n")

	b.WriteString("## Global Statistics\n")
	if m := res.Summary.Moran; m != nil {
		fmt.Fprintf(&b, "- Moran's I: %s\n", globalLine(m))
	}
	if g := res.Summary.GeneralG; g != nil {
		fmt.Fprintf(&b, "- General G: %s\n", globalLine(g))
	}
	b.WriteString("\n")

	b.WriteString("## Local Clusters\n")
	for _, label := range []esda.Label{
		esda.LabelClusterStrong,
		esda.LabelCluster,
		esda.LabelOutlierStrong,
		esda.LabelOutlier,
		esda.LabelNotSignificant,
	} {
		pr.Fprintf(&b, "- %s: %d\n", string(label), res.Summary.LabelCounts[string(label)])
	}
	b.WriteString("\n")

	if top := topUnits(res.Units); len(top) > 0 {
		b.WriteString("## Strongest Units\n")
		for _, u := range top {
			fmt.Fprintf(&b, "- %s %s: %s %s, Ii = %.4f, z = %.2f, p = %s\n",
				u.GEOID, u.Name, u.Quadrant, u.Label,
				u.LocalI.Float64(), u.Z.Float64(), pString(u))
		}
		b.WriteString("\n")
	}

	pr.Fprintf(&b, "Completed in %dms.\n", res.Summary.DurationMS)
	return b.String()
}

func extentLine(params model.RunParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Level: %s", params.Level)
	if params.State != "" {
		fmt.Fprintf(&b, ", state %s", params.State)
	}
	if params.County != "" {
		fmt.Fprintf(&b, ", county %s", params.County)
	}
	b.WriteString("\n")
	return b.String()
}

func yearOf(params model.RunParams) int {
	if params.Year == 0 {
		return acs.DefaultYear
	}
	return params.Year
}

func datasetOf(params model.RunParams) string {
	if params.Dataset == "" {
		return acs.DatasetACS5
	}
	return params.Dataset
}

func ruleLine(params model.RunParams) string {
	switch strings.ToLower(strings.TrimSpace(params.Weights)) {
	case "", "queen":
		return "queen contiguity"
	case "rook":
		return "rook contiguity"
	case "knn":
		return fmt.Sprintf("%d nearest neighbors", params.K)
	case "distance":
		return fmt.Sprintf("distance band, %.0fm", params.ThresholdM)
	default:
		return params.Weights
	}
}

func styleLine(params model.RunParams) string {
	switch strings.ToLower(strings.TrimSpace(params.Style)) {
	case "binary", "b":
		return "binary"
	default:
		return "row-standardized"
	}
}

func globalLine(s *model.GlobalStat) string {
	return fmt.Sprintf("%.4f (expected %.4f, z = %.2f, p = %.4f, %s)",
		s.Stat, s.Expected, s.Z, s.P, s.Alternative)
}

// topUnits returns the significant units with the largest |z|, strongest
// first. Island units carry NaN scores and never qualify.
func topUnits(units []model.UnitResult) []model.UnitResult {
	top := make([]model.UnitResult, 0, len(units))
	for _, u := range units {
		if u.Label == string(esda.LabelNotSignificant) {
			continue
		}
		if math.IsNaN(u.Z.Float64()) {
			continue
		}
		top = append(top, u)
	}
	sort.SliceStable(top, func(i, j int) bool {
		return math.Abs(top[i].Z.Float64()) > math.Abs(top[j].Z.Float64())
	})
	if len(top) > topUnitCount {
		top = top[:topUnitCount]
	}
	return top
}

// pString prefers the permutation pseudo p-value when one was computed.
func pString(u model.UnitResult) string {
	if p := u.PSim.Float64(); !math.IsNaN(p) {
		return fmt.Sprintf("%.4f*", p)
	}
	return fmt.Sprintf("%.4f", u.P.Float64())
}

func sampleList(ids []string) string {
	const max = 5
	if len(ids) <= max {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:max], ", ") + ", ..."
}
