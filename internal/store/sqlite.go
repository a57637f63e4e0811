package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/tractwise/hotspot-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	params     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	error      TEXT NOT NULL DEFAULT '',
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	geoid    TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	value    REAL,
	local_i  REAL,
	z        REAL,
	p        REAL,
	p_sim    REAL,
	quadrant TEXT NOT NULL DEFAULT '',
	label    TEXT NOT NULL DEFAULT '',
	island   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, geoid)
);

CREATE TABLE IF NOT EXISTS geometries (
	run_id TEXT NOT NULL REFERENCES runs(id),
	geoid  TEXT NOT NULL,
	ewkb   BLOB NOT NULL,
	PRIMARY KEY (run_id, geoid)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_results_label ON results(run_id, label);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, params, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(paramsJSON), string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Params:    params,
		Status:    model.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusRunning), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, params, status, error, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, params, status, error, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Metric != "" {
		query += ` AND json_extract(params, '$.metric') = ?`
		args = append(args, filter.Metric)
	}
	if filter.Level != "" {
		query += ` AND json_extract(params, '$.level') = ?`
		args = append(args, filter.Level)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveResults(ctx context.Context, runID string, results []model.UnitResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save results")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear results for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, geoid, name, value, local_i, z, p, p_sim, quadrant, label, island)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert result")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx,
			runID, r.GEOID, r.Name, r.Value, r.LocalI, r.Z, r.P, r.PSim,
			r.Quadrant, r.Label, r.Island,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert result %s", r.GEOID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit results")
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]model.UnitResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, geoid, name, value, local_i, z, p, p_sim, quadrant, label, island
		 FROM results WHERE run_id = ? ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results for run %s", runID)
	}
	defer rows.Close()

	var results []model.UnitResult
	for rows.Next() {
		var r model.UnitResult
		if err := rows.Scan(
			&r.RunID, &r.GEOID, &r.Name, &r.Value, &r.LocalI, &r.Z, &r.P, &r.PSim,
			&r.Quadrant, &r.Label, &r.Island,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) SaveGeometries(ctx context.Context, runID string, geoms []model.Geometry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save geometries")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM geometries WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear geometries for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO geometries (run_id, geoid, ewkb) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert geometry")
	}
	defer stmt.Close() //nolint:errcheck

	for _, g := range geoms {
		if _, err := stmt.ExecContext(ctx, runID, g.GEOID, g.EWKB); err != nil {
			return eris.Wrapf(err, "sqlite: insert geometry %s", g.GEOID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit geometries")
}

func (s *SQLiteStore) GetGeometries(ctx context.Context, runID string) ([]model.Geometry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, ewkb FROM geometries WHERE run_id = ? ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get geometries for run %s", runID)
	}
	defer rows.Close()

	var geoms []model.Geometry
	for rows.Next() {
		var g model.Geometry
		if err := rows.Scan(&g.GEOID, &g.EWKB); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan geometry")
		}
		geoms = append(geoms, g)
	}
	return geoms, eris.Wrap(rows.Err(), "sqlite: get geometries iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var paramsJSON string
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &paramsJSON, &r.Status, &r.Error, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	if summaryJSON.Valid {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
