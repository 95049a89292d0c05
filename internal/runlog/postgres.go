package runlog

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exofeat/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresLedger implements Ledger on a pgx pool.
type PostgresLedger struct {
	pool db.Pool
}

// NewPostgres creates a PostgresLedger. The ledger owns pool and closes it on Close.
func NewPostgres(pool db.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Migrate applies pending migrations in lexicographic order. An advisory lock
// keeps concurrent runs from migrating at the same time.
func (p *PostgresLedger) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "runlog.migrate"))

	if _, err := p.pool.Exec(ctx, "SELECT pg_advisory_lock(8675309)"); err != nil {
		return eris.Wrap(err, "runlog: acquire migration advisory lock")
	}
	defer func() {
		if _, err := p.pool.Exec(ctx, "SELECT pg_advisory_unlock(8675309)"); err != nil {
			log.Warn("runlog: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := p.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS exofeat;
		CREATE TABLE IF NOT EXISTS exofeat.schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`); err != nil {
		return eris.Wrap(err, "runlog: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "runlog: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := p.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "runlog: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := p.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "runlog: apply migration %s", name)
		}
		if _, err := p.pool.Exec(ctx,
			"INSERT INTO exofeat.schema_migrations (filename, applied_at) VALUES ($1, now())", name,
		); err != nil {
			return eris.Wrapf(err, "runlog: record migration %s", name)
		}
	}
	return nil
}

func (p *PostgresLedger) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx, "SELECT filename FROM exofeat.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "runlog: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "runlog: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (p *PostgresLedger) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresLedger) Start(ctx context.Context, command string, params map[string]string) (string, error) {
	id := uuid.New().String()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal params")
	}
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO exofeat.runs (id, command, status, params, started_at) VALUES ($1, $2, $3, $4, now())`,
		id, command, string(StatusRunning), paramsJSON,
	); err != nil {
		return "", eris.Wrapf(err, "postgres: start run %s", command)
	}
	return id, nil
}

func (p *PostgresLedger) Complete(ctx context.Context, runID string, res *Result) error {
	if res == nil {
		res = &Result{}
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE exofeat.runs
		 SET status = $1, rows_written = $2, content_hash = $3, completed_at = now()
		 WHERE id = $4`,
		string(StatusComplete), res.Rows, res.ContentHash, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}

	paths := sortedArtifacts(res)
	rows := make([][]any, 0, len(paths))
	for _, path := range paths {
		rows = append(rows, []any{runID, path, res.Artifacts[path]})
	}
	if _, err := db.CopyFrom(ctx, p.pool, "exofeat.run_artifacts", []string{"run_id", "path", "digest"}, rows); err != nil {
		return eris.Wrapf(err, "postgres: record artifacts for %s", runID)
	}
	return nil
}

func (p *PostgresLedger) Fail(ctx context.Context, runID string, errMsg string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE exofeat.runs SET status = $1, error = $2, completed_at = now() WHERE id = $3`,
		string(StatusFailed), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (p *PostgresLedger) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, command, status, params, rows_written, content_hash, error, started_at, completed_at
		 FROM exofeat.runs ORDER BY started_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r           Run
			status      string
			params      []byte
			hash, errS  *string
			completedAt *time.Time
		)
		if err := rows.Scan(&r.ID, &r.Command, &status, &params, &r.Rows, &hash, &errS, &r.StartedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = Status(status)
		r.CompletedAt = completedAt
		if hash != nil {
			r.ContentHash = *hash
		}
		if errS != nil {
			r.Error = *errS
		}
		if params != nil {
			if err := json.Unmarshal(params, &r.Params); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal params")
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate runs")
	}
	return out, nil
}
