package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tractwise/hotspot-cli/internal/model"
)

func newMockPostgres(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, &PostgresStore{pool: mock}
}

func TestNewPostgres_BadDSN(t *testing.T) {
	_, err := NewPostgres(context.Background(), "://", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestPostgres_Ping(t *testing.T) {
	mock, st := newMockPostgres(t)
	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, st.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	mock, st := newMockPostgres(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateRun(t *testing.T) {
	mock, st := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := st.CreateRun(context.Background(), testParams())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.Equal(t, testParams(), run.Params)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_StartRun_NotFound(t *testing.T) {
	mock, st := newMockPostgres(t)
	mock.ExpectExec("UPDATE runs SET status").
		WithArgs("running", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.StartRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteRun(t *testing.T) {
	mock, st := newMockPostgres(t)
	mock.ExpectExec("UPDATE runs SET status").
		WithArgs("complete", pgxmock.AnyArg(), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.CompleteRun(context.Background(), "run-1", testSummary()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FailRun(t *testing.T) {
	mock, st := newMockPostgres(t)
	mock.ExpectExec("UPDATE runs SET status").
		WithArgs("failed", "weight matrix has zero total weight", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.FailRun(context.Background(), "run-1", "weight matrix has zero total weight"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func runColumns() []string {
	return []string{"id", "params", "status", "error", "summary", "created_at", "updated_at"}
}

func TestPostgres_GetRun(t *testing.T) {
	mock, st := newMockPostgres(t)
	now := time.Now().UTC()
	summary := []byte(`{"units":1181,"duration_ms":5120}`)

	mock.ExpectQuery("SELECT id, params, status, error, summary, created_at, updated_at FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runColumns()).
			AddRow("run-1", []byte(`{"metric":"poverty","year":2023,"level":"county"}`),
				model.RunStatusComplete, "", &summary, now, now))

	run, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "poverty", run.Params.Metric)
	assert.Equal(t, "county", run.Params.Level)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 1181, run.Summary.Units)
	assert.Equal(t, int64(5120), run.Summary.DurationMS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRun_NotFound(t *testing.T) {
	mock, st := newMockPostgres(t)
	mock.ExpectQuery("SELECT id, params, status, error, summary, created_at, updated_at FROM runs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListRuns_StatusFilter(t *testing.T) {
	mock, st := newMockPostgres(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM runs WHERE true AND status = .+ ORDER BY created_at DESC LIMIT").
		WithArgs("failed", 100).
		WillReturnRows(pgxmock.NewRows(runColumns()).
			AddRow("run-2", []byte(`{"metric":"vacancy","year":2022,"level":"tract"}`),
				model.RunStatusFailed, "attribute vector is constant", (*[]byte)(nil), now, now))

	runs, err := st.ListRuns(context.Background(), RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "vacancy", runs[0].Params.Metric)
	assert.Equal(t, "attribute vector is constant", runs[0].Error)
	assert.Nil(t, runs[0].Summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveResults(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectExec("DELETE FROM results WHERE run_id").
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"results"}, resultColumns).WillReturnResult(3)

	require.NoError(t, st.SaveResults(context.Background(), "run-1", testResults()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListResults(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectQuery("FROM results WHERE run_id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(resultColumns).
			AddRow("run-1", "01073000100", "Census Tract 1", model.F(12.5), model.F(1.84),
				model.F(2.91), model.F(0.0018), model.F(0.002), "HH", "Cluster", false))

	results, err := st.ListResults(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "01073000100", results[0].GEOID)
	assert.Equal(t, "Cluster", results[0].Label)
	assert.InDelta(t, 2.91, results[0].Z.Float64(), 1e-9)
	assert.False(t, results[0].Island)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveGeometries(t *testing.T) {
	mock, st := newMockPostgres(t)
	cols := []string{"run_id", "geoid", "ewkb"}

	// BulkUpsert does: Begin -> CREATE TEMP TABLE -> CopyFrom -> INSERT ON CONFLICT -> Commit.
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_geometries"}, cols).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	geoms := []model.Geometry{
		{GEOID: "01073000100", EWKB: []byte{0x01, 0x06}},
		{GEOID: "01073000200", EWKB: []byte{0x01, 0x03}},
	}
	require.NoError(t, st.SaveGeometries(context.Background(), "run-1", geoms))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetGeometries(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectQuery("SELECT geoid, ewkb FROM geometries WHERE run_id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"geoid", "ewkb"}).
			AddRow("01073000100", []byte{0x01, 0x06}).
			AddRow("01073000200", []byte{0x01, 0x03}))

	geoms, err := st.GetGeometries(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, geoms, 2)
	assert.Equal(t, "01073000100", geoms[0].GEOID)
	assert.Equal(t, []byte{0x01, 0x06}, geoms[0].EWKB)
	assert.NoError(t, mock.ExpectationsWereMet())
}
