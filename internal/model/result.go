package model

// UnitResult is the per-unit outcome of a run: the attribute value, the
// Local Moran statistic with its inference, and the cluster label. Stat
// fields are NaN (null when serialized) for islands; PSim is NaN when no
// permutations were run.
type UnitResult struct {
	RunID    string `json:"run_id,omitempty" csv:"-"`
	GEOID    string `json:"geoid" csv:"geoid"`
	Name     string `json:"name" csv:"name"`
	Value    Float  `json:"value" csv:"value"`
	LocalI   Float  `json:"local_i" csv:"local_i"`
	Z        Float  `json:"z" csv:"z"`
	P        Float  `json:"p" csv:"p"`
	PSim     Float  `json:"p_sim" csv:"p_sim"`
	Quadrant string `json:"quadrant,omitempty" csv:"quadrant"`
	Label    string `json:"label" csv:"label"`
	Island   bool   `json:"island,omitempty" csv:"island"`
}

// Geometry pairs a unit with its boundary encoded as EWKB, persisted per
// run so renders and exports never re-download shapefiles.
type Geometry struct {
	GEOID string `json:"geoid"`
	EWKB  []byte `json:"-"`
}
