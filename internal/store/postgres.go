package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/directory-cli/internal/db"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	tuning  Tuning
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_ingest_run":   `INSERT INTO ingest_runs (id, status, started_at) VALUES ($1, $2, $3)`,
	"complete_ingest_run": `UPDATE ingest_runs SET status = $1, report = $2, error = $3, finished_at = $4 WHERE id = $5`,
	"get_ingest_run":      `SELECT id, status, report, error, started_at, finished_at FROM ingest_runs WHERE id = $1`,
	"count_companies":     `SELECT COUNT(*) FROM companies`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, tuning Tuning) (*PostgresStore, error) {
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

	pingCfg := resilience.DefaultRetryConfig()
	pingCfg.ShouldRetry = func(error) bool { return true }
	if err := resilience.Do(ctx, "postgres ping", pingCfg, func(ctx context.Context) error {
		return pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, tuning: tuning.withDefaults()}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	profile_url   TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	one_liner     TEXT,
	logo_url      TEXT,
	batch         TEXT,
	website       TEXT,
	location      TEXT,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_batch ON companies(batch);
CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	report      JSONB,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_status ON ingest_runs(status);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at DESC);
`

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

// companyColumns is the column order used for bulk flushes.
var companyColumns = []string{"profile_url", "name", "one_liner", "logo_url", "batch", "website", "location", "updated_at"}

// upsertRetry governs per-chunk flush retries. A chunk upsert is idempotent,
// so replaying a failed chunk is safe.
var upsertRetry = resilience.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	ShouldRetry:    isRetryableDBErr,
}

// isRetryableDBErr treats server-reported SQL errors as terminal and
// everything else (broken connections, pool timeouts) as retryable.
func isRetryableDBErr(err error) bool {
	var pgErr *pgconn.PgError
	return !errors.As(err, &pgErr)
}

// UpsertCompanies writes records through the temp-table COPY path in fixed
// size chunks, several in flight at once. Rows conflict on profile_url and
// the newest write wins column by column.
func (s *PostgresStore) UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error) {
	if len(companies) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(companies))
	for _, c := range companies {
		rows = append(rows, []any{c.ProfileURL, c.Name, c.OneLiner, c.LogoURL, c.Batch, c.Website, c.Location, now})
	}

	cfg := db.UpsertConfig{
		Table:        "companies",
		Columns:      companyColumns,
		ConflictKeys: []string{"profile_url"},
	}

	tuning := s.tuning.withDefaults()
	var written atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tuning.FlushConcurrency)
	for start := 0; start < len(rows); start += tuning.BatchSize {
		chunk := rows[start:min(start+tuning.BatchSize, len(rows))]
		g.Go(func() error {
			n, err := resilience.DoVal(gctx, "companies upsert", upsertRetry, func(ctx context.Context) (int64, error) {
				return db.BulkUpsert(ctx, s.pool, cfg, chunk)
			})
			if err != nil {
				return err
			}
			written.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return written.Load(), eris.Wrap(err, "postgres: upsert companies")
	}
	return written.Load(), nil
}

func (s *PostgresStore) CountCompanies(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM companies`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count companies")
}

func (s *PostgresStore) ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, error) {
	query := `SELECT profile_url, name, one_liner, logo_url, batch, website, location FROM companies WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Batch != "" {
		query += fmt.Sprintf(` AND batch = $%d`, argIdx)
		args = append(args, filter.Batch)
		argIdx++
	}
	query += ` ORDER BY name`

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
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ProfileURL, &c.Name, &c.OneLiner, &c.LogoURL, &c.Batch, &c.Website, &c.Location); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) CreateIngestRun(ctx context.Context) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		id, string(model.IngestStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert ingest run")
	}

	return &model.IngestRun{
		ID:        id,
		Status:    model.IngestStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteIngestRun(ctx context.Context, runID string, report *model.RunReport, runErr error) error {
	status := model.IngestStatusComplete
	errMsg := ""
	if runErr != nil {
		status = model.IngestStatusFailed
		errMsg = runErr.Error()
	}

	var reportJSON []byte
	if report != nil {
		var err error
		reportJSON, err = json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal report")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, report = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(status), reportJSON, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete ingest run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ingest run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetIngestRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	var r model.IngestRun
	var reportJSON []byte
	var errMsg *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, report, error, started_at, finished_at FROM ingest_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &reportJSON, &errMsg, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ingest run %s", runID)
	}

	if errMsg != nil {
		r.Error = *errMsg
	}
	if len(reportJSON) > 0 {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal(reportJSON, r.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListIngestRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, status, report, error, started_at, finished_at FROM ingest_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingest runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var reportJSON []byte
		var errMsg *string

		if err := rows.Scan(&r.ID, &r.Status, &reportJSON, &errMsg, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingest run")
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		if len(reportJSON) > 0 {
			r.Report = &model.RunReport{}
			if err := json.Unmarshal(reportJSON, r.Report); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal report")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list ingest runs iterate")
}
