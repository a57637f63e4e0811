package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/tractwise/hotspot-cli/internal/db"
	"github.com/tractwise/hotspot-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":     `INSERT INTO runs (id, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"start_run":      `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run":   `UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
	"fail_run":       `UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_run":        `SELECT id, params, status, error, summary, created_at, updated_at FROM runs WHERE id = $1`,
	"list_results":   `SELECT run_id, geoid, name, value, local_i, z, p, p_sim, quadrant, label, island FROM results WHERE run_id = $1 ORDER BY geoid`,
	"get_geometries": `SELECT geoid, ewkb FROM geometries WHERE run_id = $1 ORDER BY geoid`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that
// need direct query access (e.g., ad-hoc reporting).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	params     JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	error      TEXT NOT NULL DEFAULT '',
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS results (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	geoid    TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	value    DOUBLE PRECISION,
	local_i  DOUBLE PRECISION,
	z        DOUBLE PRECISION,
	p        DOUBLE PRECISION,
	p_sim    DOUBLE PRECISION,
	quadrant TEXT NOT NULL DEFAULT '',
	label    TEXT NOT NULL DEFAULT '',
	island   BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (run_id, geoid)
);

CREATE TABLE IF NOT EXISTS geometries (
	run_id TEXT NOT NULL REFERENCES runs(id),
	geoid  TEXT NOT NULL,
	ewkb   BYTEA NOT NULL,
	PRIMARY KEY (run_id, geoid)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_results_label ON results(run_id, label);
`

// resultColumns is the COPY column order for the results table.
var resultColumns = []string{"run_id", "geoid", "name", "value", "local_i", "z", "p", "p_sim", "quadrant", "label", "island"}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, paramsJSON, string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Params:    params,
		Status:    model.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(model.RunStatusRunning), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var paramsJSON []byte
	var summaryJSON *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, params, status, error, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &paramsJSON, &r.Status, &r.Error, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal params")
	}
	if summaryJSON != nil {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(*summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, params, status, error, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Metric != "" {
		query += fmt.Sprintf(` AND params->>'metric' = $%d`, argIdx)
		args = append(args, filter.Metric)
		argIdx++
	}
	if filter.Level != "" {
		query += fmt.Sprintf(` AND params->>'level' = $%d`, argIdx)
		args = append(args, filter.Level)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var paramsJSON []byte
		var summaryJSON *[]byte

		if err := rows.Scan(&r.ID, &paramsJSON, &r.Status, &r.Error, &summaryJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal params")
		}
		if summaryJSON != nil {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal(*summaryJSON, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveResults(ctx context.Context, runID string, results []model.UnitResult) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM results WHERE run_id = $1`, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear results for run %s", runID)
	}

	rows := make([][]any, len(results))
	for i, r := range results {
		rows[i] = []any{
			runID, r.GEOID, r.Name, nullable(r.Value), nullable(r.LocalI), nullable(r.Z),
			nullable(r.P), nullable(r.PSim), r.Quadrant, r.Label, r.Island,
		}
	}
	if _, err := db.CopyFrom(ctx, s.pool, "results", resultColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: save results for run %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListResults(ctx context.Context, runID string) ([]model.UnitResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, geoid, name, value, local_i, z, p, p_sim, quadrant, label, island
		 FROM results WHERE run_id = $1 ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results for run %s", runID)
	}
	defer rows.Close()

	var results []model.UnitResult
	for rows.Next() {
		var r model.UnitResult
		if err := rows.Scan(
			&r.RunID, &r.GEOID, &r.Name, &r.Value, &r.LocalI, &r.Z, &r.P, &r.PSim,
			&r.Quadrant, &r.Label, &r.Island,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) SaveGeometries(ctx context.Context, runID string, geoms []model.Geometry) error {
	rows := make([][]any, len(geoms))
	for i, g := range geoms {
		rows[i] = []any{runID, g.GEOID, g.EWKB}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "geometries",
		Columns:      []string{"run_id", "geoid", "ewkb"},
		ConflictKeys: []string{"run_id", "geoid"},
	}, rows)
	if err != nil {
		return eris.Wrapf(err, "postgres: save geometries for run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetGeometries(ctx context.Context, runID string) ([]model.Geometry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geoid, ewkb FROM geometries WHERE run_id = $1 ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get geometries for run %s", runID)
	}
	defer rows.Close()

	var geoms []model.Geometry
	for rows.Next() {
		var g model.Geometry
		if err := rows.Scan(&g.GEOID, &g.EWKB); err != nil {
			return nil, eris.Wrap(err, "postgres: scan geometry")
		}
		geoms = append(geoms, g)
	}
	return geoms, eris.Wrap(rows.Err(), "postgres: get geometries iterate")
}

// nullable converts non-finite stats to NULL for COPY.
func nullable(f model.Float) any {
	if !f.Valid() {
		return nil
	}
	return f.Float64()
}
