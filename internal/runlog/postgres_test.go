package runlog

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationFileNames(t *testing.T) []string {
	t.Helper()
	entries, err := fs.ReadDir(migrationFS, "migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgres_MigrateFresh(t *testing.T) {
	mock := newMock(t)
	names := migrationFileNames(t)
	require.Equal(t, []string{"001_runs.sql", "002_run_artifacts.sql"}, names)

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS exofeat").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM exofeat.schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, name := range names {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS exofeat").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("INSERT INTO exofeat.schema_migrations").
			WithArgs(name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, NewPostgres(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MigrateAlreadyApplied(t *testing.T) {
	mock := newMock(t)

	applied := pgxmock.NewRows([]string{"filename"})
	for _, name := range migrationFileNames(t) {
		applied.AddRow(name)
	}
	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS exofeat").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM exofeat.schema_migrations").WillReturnRows(applied)
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, NewPostgres(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MigrateLockError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnError(fmt.Errorf("connection refused"))

	err := NewPostgres(mock).Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisory lock")
}

func TestPostgres_StartAndComplete(t *testing.T) {
	mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO exofeat.runs").
		WithArgs(pgxmock.AnyArg(), "join", "running", []byte(`{"lags":"1"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	l := NewPostgres(mock)
	id, err := l.Start(ctx, "join", map[string]string{"lags": "1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	mock.ExpectExec("UPDATE exofeat.runs").
		WithArgs("complete", int64(12), "sha256:abc", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"exofeat", "run_artifacts"}, []string{"run_id", "path", "digest"}).
		WillReturnResult(2)

	require.NoError(t, l.Complete(ctx, id, &Result{
		Rows:        12,
		ContentHash: "sha256:abc",
		Artifacts:   map[string]string{"b.csv": "sha256:2", "a.csv": "sha256:1"},
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteUnknownRun(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("UPDATE exofeat.runs").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewPostgres(mock).Complete(context.Background(), "missing", &Result{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Fail(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("UPDATE exofeat.runs SET status").
		WithArgs("failed", "boom", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewPostgres(mock).Fail(context.Background(), "run-1", "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_List(t *testing.T) {
	mock := newMock(t)
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	completed := started.Add(time.Minute)
	hash := "sha256:abc"

	mock.ExpectQuery("SELECT id::text, command").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "command", "status", "params", "rows_written", "content_hash", "error", "started_at", "completed_at",
		}).
			AddRow("run-2", "join", "complete", []byte(`{"lags":"1"}`), int64(4), &hash, (*string)(nil), started, &completed).
			AddRow("run-1", "normalize", "running", []byte(nil), int64(0), (*string)(nil), (*string)(nil), started, (*time.Time)(nil)))

	runs, err := NewPostgres(mock).List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, StatusComplete, runs[0].Status)
	assert.Equal(t, "sha256:abc", runs[0].ContentHash)
	assert.Equal(t, map[string]string{"lags": "1"}, runs[0].Params)
	require.NotNil(t, runs[0].CompletedAt)
	assert.Equal(t, completed, *runs[0].CompletedAt)

	assert.Equal(t, StatusRunning, runs[1].Status)
	assert.Nil(t, runs[1].CompletedAt)
	assert.Nil(t, runs[1].Params)
	assert.NoError(t, mock.ExpectationsWereMet())
}
