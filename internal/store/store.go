package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/tractwise/hotspot-cli/internal/model"
)

// ErrNotFound reports a run ID absent from the store. Callers distinguish
// it from infrastructure failures with errors.Is.
var ErrNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Metric string          `json:"metric,omitempty"`
	Level  string          `json:"level,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for analysis runs, their
// per-unit results, and the unit boundaries renders draw from.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error)
	StartRun(ctx context.Context, runID string) error
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, cause string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Per-unit results, replaced wholesale on re-save.
	SaveResults(ctx context.Context, runID string, results []model.UnitResult) error
	ListResults(ctx context.Context, runID string) ([]model.UnitResult, error)

	// Boundaries, EWKB-encoded.
	SaveGeometries(ctx context.Context, runID string, geoms []model.Geometry) error
	GetGeometries(ctx context.Context, runID string) ([]model.Geometry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and tunes the backing store.
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path" mapstructure:"path"`
	// DSN is the Postgres connection string.
	DSN  string      `yaml:"dsn" mapstructure:"dsn"`
	Pool *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open constructs the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "hotspot.db"
		}
		return NewSQLite(path)
	case "postgres", "postgresql":
		return NewPostgres(ctx, cfg.DSN, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
