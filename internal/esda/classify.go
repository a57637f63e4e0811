package esda

// Significance thresholds for cluster/outlier labeling. Comparison is
// strictly less-than, so a p of exactly 0.05 is not significant.
const (
	alphaStrong = 0.001
	alpha       = 0.05
)

// Label is a cluster/outlier classification.
type Label string

const (
	LabelClusterStrong  Label = "Cluster (strong)"
	LabelCluster        Label = "Cluster"
	LabelOutlierStrong  Label = "Outlier (strong)"
	LabelOutlier        Label = "Outlier"
	LabelNotSignificant Label = "Not Significant"
)

// Classify labels a unit from its local statistic and p-value. Positive
// statistics mark clusters (the unit resembles its neighbors), negative
// ones mark outliers. NaN p-values and zero statistics are never
// significant. The mapping is deterministic: equal inputs always produce
// equal labels.
func Classify(index, p float64) Label {
	switch {
	case index > 0 && p < alphaStrong:
		return LabelClusterStrong
	case index > 0 && p < alpha:
		return LabelCluster
	case index < 0 && p < alphaStrong:
		return LabelOutlierStrong
	case index < 0 && p < alpha:
		return LabelOutlier
	default:
		return LabelNotSignificant
	}
}

// ClassifyLocal labels every unit of a Local Moran result, preferring the
// permutation p-value when permutations were run and the analytic one
// otherwise. Labels are returned in unit order.
func ClassifyLocal(res *LocalResult) []Label {
	labels := make([]Label, len(res.Units))
	for i, u := range res.Units {
		p := u.P
		if res.Permutations > 0 {
			p = u.PSim
		}
		labels[i] = Classify(u.I, p)
	}
	return labels
}
