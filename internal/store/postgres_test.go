package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit
// testing. FlushConcurrency is pinned to 1 so the mock sees batches in order.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, tuning: Tuning{BatchSize: 500, FlushConcurrency: 1}}
	return s, mock
}

func manyCompanies(n int) []model.Company {
	out := make([]model.Company, 0, n)
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("https://www.ycombinator.com/companies/co-%d", i)
		out = append(out, model.Company{Name: fmt.Sprintf("Co %d", i), ProfileURL: url})
	}
	return out
}

func expectChunkUpsert(mock pgxmock.PgxPoolIface, rows int64) {
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_companies"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_companies"}, companyColumns).
		WillReturnResult(rows)
	mock.ExpectExec(`INSERT INTO "companies" .+ ON CONFLICT \("profile_url"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", rows))
	mock.ExpectCommit()
}

func TestPostgresStore_UpsertCompanies_ChunksBatches(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// 1201 records at batch size 500 flush as 500, 500, 201.
	expectChunkUpsert(mock, 500)
	expectChunkUpsert(mock, 500)
	expectChunkUpsert(mock, 201)

	n, err := s.UpsertCompanies(context.Background(), manyCompanies(1201))
	require.NoError(t, err)
	assert.Equal(t, int64(1201), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCompanies_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.UpsertCompanies(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCompanies_SQLErrorIsTerminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// A server-reported SQL error must not be retried.
	mock.ExpectBegin().WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})

	_, err := s.UpsertCompanies(context.Background(), manyCompanies(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert companies")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryableDBErr(t *testing.T) {
	assert.False(t, isRetryableDBErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isRetryableDBErr(errors.New("connection reset by peer")))
}

func TestPostgresStore_CountCompanies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM companies`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4821))

	count, err := s.CountCompanies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4821, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCompanies_BatchFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cols := []string{"profile_url", "name", "one_liner", "logo_url", "batch", "website", "location"}
	mock.ExpectQuery(`SELECT profile_url, name, one_liner, logo_url, batch, website, location FROM companies WHERE true AND batch = \$1 ORDER BY name LIMIT \$2`).
		WithArgs("W22", 10).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("https://www.ycombinator.com/companies/acme", "Acme", "One liner", "", "W22", "https://acme.com", "SF").
			AddRow("https://www.ycombinator.com/companies/zephyr", "Zephyr", "", "", "W22", "", ""))

	companies, err := s.ListCompanies(context.Background(), CompanyFilter{Batch: "W22", Limit: 10})
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "Acme", companies[0].Name)
	assert.Equal(t, "W22", companies[0].Batch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateIngestRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO ingest_runs \(id, status, started_at\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs(pgxmock.AnyArg(), "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateIngestRun(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.IngestStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteIngestRun_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingest_runs SET status = \$1, report = \$2, error = \$3, finished_at = \$4 WHERE id = \$5`).
		WithArgs("complete", pgxmock.AnyArg(), "", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	report := &model.RunReport{Strategy: "index", Total: 4821}
	err := s.CompleteIngestRun(context.Background(), "run-1", report, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteIngestRun_Failed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingest_runs SET status = \$1`).
		WithArgs("failed", pgxmock.AnyArg(), "browser crashed", pgxmock.AnyArg(), "run-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteIngestRun(context.Background(), "run-2", nil, errors.New("browser crashed"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteIngestRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingest_runs SET status = \$1`).
		WithArgs("complete", pgxmock.AnyArg(), "", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteIngestRun(context.Background(), "missing", &model.RunReport{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest run not found")
}

func TestPostgresStore_GetIngestRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(2 * time.Minute)
	errMsg := ""
	reportJSON := []byte(`{"strategy":"index","stages":[{"stage":"segmented","produced":4821,"total":4821}],"total":4821,"duration_ms":95000}`)

	cols := []string{"id", "status", "report", "error", "started_at", "finished_at"}
	mock.ExpectQuery(`SELECT id, status, report, error, started_at, finished_at FROM ingest_runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("run-1", "complete", reportJSON, &errMsg, started, &finished))

	run, err := s.GetIngestRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.IngestStatusComplete, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, 4821, run.Report.Total)
	assert.Equal(t, "segmented", run.Report.Stages[0].Stage)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, finished, *run.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetIngestRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, report, error, started_at, finished_at FROM ingest_runs WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetIngestRun(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get ingest run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListIngestRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "status", "report", "error", "started_at", "finished_at"}
	mock.ExpectQuery(`SELECT id, status, report, error, started_at, finished_at FROM ingest_runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("run-2", "running", nil, nil, started.Add(time.Hour), nil).
			AddRow("run-1", "complete", []byte(`{"strategy":"dom","total":2100}`), nil, started, nil))

	runs, err := s.ListIngestRuns(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.IngestStatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].Report)
	require.NotNil(t, runs[1].Report)
	assert.Equal(t, 2100, runs[1].Report.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS companies`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
