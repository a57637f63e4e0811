package model

import "time"

// RunStatus represents the lifecycle state of an analysis run.
type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunParams captures everything needed to reproduce an analysis run.
type RunParams struct {
	Metric  string `json:"metric"`
	Year    int    `json:"year"`
	Dataset string `json:"dataset"`
	Level   string `json:"level"`
	State   string `json:"state,omitempty"`
	County  string `json:"county,omitempty"`

	// Weights names the neighbor rule: queen, rook, knn or distance.
	Weights    string  `json:"weights"`
	K          int     `json:"k,omitempty"`
	ThresholdM float64 `json:"threshold_m,omitempty"`
	// Style is the weight transform: row (W) or binary (B).
	Style        string `json:"style"`
	AllowIslands bool   `json:"allow_islands,omitempty"`

	DropInvalid  bool   `json:"drop_invalid,omitempty"`
	Permutations int    `json:"permutations"`
	Seed         int64  `json:"seed,omitempty"`
	Alternative  string `json:"alternative"`
}

// Run represents a single hotspot analysis run.
type Run struct {
	ID        string      `json:"id"`
	Params    RunParams   `json:"params"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// GlobalStat is one persisted global statistic with its inference.
type GlobalStat struct {
	Stat        float64 `json:"stat"`
	Expected    float64 `json:"expected"`
	Variance    float64 `json:"variance"`
	Z           float64 `json:"z"`
	P           float64 `json:"p"`
	Alternative string  `json:"alternative"`
}

// RunSummary holds the global outcome of a completed run. Per-unit local
// statistics live in the results table, not here.
type RunSummary struct {
	Units       int            `json:"units"`
	Dropped     int            `json:"dropped,omitempty"`
	Islands     []string       `json:"islands,omitempty"`
	Moran       *GlobalStat    `json:"moran,omitempty"`
	GeneralG    *GlobalStat    `json:"general_g,omitempty"`
	LabelCounts map[string]int `json:"label_counts,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
}
