package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
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
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	command      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	params       TEXT,
	rows_written INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT,
	error        TEXT,
	started_at   TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS run_artifacts (
	run_id TEXT NOT NULL REFERENCES runs(id),
	path   TEXT NOT NULL,
	digest TEXT NOT NULL,
	PRIMARY KEY (run_id, path)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

func (s *SQLiteLedger) Start(ctx context.Context, command string, params map[string]string) (string, error) {
	id := uuid.New().String()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, status, params, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, command, string(StatusRunning), string(paramsJSON), formatTime(time.Now()),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert run")
	}
	return id, nil
}

func (s *SQLiteLedger) Complete(ctx context.Context, runID string, res *Result) error {
	if res == nil {
		res = &Result{}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	r, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, rows_written = ?, content_hash = ?, completed_at = ? WHERE id = ?`,
		string(StatusComplete), res.Rows, res.ContentHash, formatTime(time.Now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	if err := checkRowsAffected(r, runID); err != nil {
		return err
	}

	for _, path := range sortedArtifacts(res) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_artifacts (run_id, path, digest) VALUES (?, ?, ?)`,
			runID, path, res.Artifacts[path],
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert artifact %s", path)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteLedger) Fail(ctx context.Context, runID string, errMsg string) error {
	r, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(StatusFailed), errMsg, formatTime(time.Now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(r, runID)
}

func (s *SQLiteLedger) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, status, params, rows_written, content_hash, error, started_at, completed_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []Run
	for rows.Next() {
		var (
			r                  Run
			status             string
			params, hash, errS sql.NullString
			started            string
			completed          sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Command, &status, &params, &r.Rows, &hash, &errS, &started, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = Status(status)
		r.ContentHash = hash.String
		r.Error = errS.String
		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &r.Params); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal params")
			}
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse started_at")
		}
		if completed.Valid {
			t, err := time.Parse(timeLayout, completed.String)
			if err != nil {
				return nil, eris.Wrap(err, "sqlite: parse completed_at")
			}
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}
