package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/directory-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	tuning Tuning
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, tuning Tuning) (*SQLiteStore, error) {
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
	return &SQLiteStore{db: db, tuning: tuning.withDefaults()}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	profile_url   TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	one_liner     TEXT,
	logo_url      TEXT,
	batch         TEXT,
	website       TEXT,
	location      TEXT,
	first_seen_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_companies_batch ON companies(batch);
CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	report      TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_status ON ingest_runs(status);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertCompanies writes records in multi-row INSERT batches inside a single
// transaction. Rows conflict on profile_url and the newest write wins.
func (s *SQLiteStore) UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error) {
	if len(companies) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	batch := s.tuning.withDefaults().BatchSize
	var written int64

	for start := 0; start < len(companies); start += batch {
		chunk := companies[start:min(start+batch, len(companies))]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO companies (profile_url, name, one_liner, logo_url, batch, website, location, updated_at) VALUES `)
		args := make([]any, 0, len(chunk)*8)
		for i, c := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, c.ProfileURL, c.Name, c.OneLiner, c.LogoURL, c.Batch, c.Website, c.Location, now)
		}
		sb.WriteString(` ON CONFLICT(profile_url) DO UPDATE SET
			name = excluded.name,
			one_liner = excluded.one_liner,
			logo_url = excluded.logo_url,
			batch = excluded.batch,
			website = excluded.website,
			location = excluded.location,
			updated_at = excluded.updated_at`)

		res, err := tx.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return written, eris.Wrap(err, "sqlite: upsert companies")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return written, eris.Wrap(err, "sqlite: rows affected")
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return written, eris.Wrap(err, "sqlite: commit upsert")
	}
	return written, nil
}

func (s *SQLiteStore) CountCompanies(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM companies`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count companies")
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, error) {
	query := `SELECT profile_url, name, one_liner, logo_url, batch, website, location FROM companies WHERE 1=1`
	var args []any

	if filter.Batch != "" {
		query += ` AND batch = ?`
		args = append(args, filter.Batch)
	}
	query += ` ORDER BY name`

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
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ProfileURL, &c.Name, &c.OneLiner, &c.LogoURL, &c.Batch, &c.Website, &c.Location); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) CreateIngestRun(ctx context.Context) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.IngestStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert ingest run")
	}

	return &model.IngestRun{
		ID:        id,
		Status:    model.IngestStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteIngestRun(ctx context.Context, runID string, report *model.RunReport, runErr error) error {
	status := model.IngestStatusComplete
	errMsg := ""
	if runErr != nil {
		status = model.IngestStatusFailed
		errMsg = runErr.Error()
	}

	var reportJSON any
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal report")
		}
		reportJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, report = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), reportJSON, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete ingest run %s", runID)
	}
	return checkRowsAffected(res, "ingest run", runID)
}

func (s *SQLiteStore) GetIngestRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, report, error, started_at, finished_at FROM ingest_runs WHERE id = ?`,
		runID,
	)
	return scanIngestRun(row)
}

func (s *SQLiteStore) ListIngestRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, report, error, started_at, finished_at FROM ingest_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingest runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		r, err := scanIngestRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list ingest runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanIngestRun(row scannable) (*model.IngestRun, error) {
	var r model.IngestRun
	var reportJSON, errMsg sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Status, &reportJSON, &errMsg, &r.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("ingest run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan ingest run")
	}

	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	if reportJSON.Valid && reportJSON.String != "" {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}
