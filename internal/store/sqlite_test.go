package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), Tuning{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore_UpsertCompanies_InsertThenUpdate(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first := []model.Company{
		{Name: "Acme", ProfileURL: "https://www.ycombinator.com/companies/acme", Batch: "W22"},
		{Name: "Zephyr", ProfileURL: "https://www.ycombinator.com/companies/zephyr", Batch: "S21"},
	}
	n, err := s.UpsertCompanies(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Same key again with new fields: overwrites, no duplicate row.
	second := []model.Company{
		{Name: "Acme Robotics", ProfileURL: "https://www.ycombinator.com/companies/acme", Batch: "W22", Website: "https://acme.com"},
	}
	_, err = s.UpsertCompanies(ctx, second)
	require.NoError(t, err)

	count, err := s.CountCompanies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	companies, err := s.ListCompanies(ctx, CompanyFilter{Batch: "W22"})
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "Acme Robotics", companies[0].Name)
	assert.Equal(t, "https://acme.com", companies[0].Website)
}

func TestSQLiteStore_UpsertCompanies_ChunksLargeSets(t *testing.T) {
	s := newTestSQLiteStore(t)
	s.tuning.BatchSize = 500
	ctx := context.Background()

	companies := make([]model.Company, 0, 1201)
	for i := 0; i < 1201; i++ {
		companies = append(companies, model.Company{
			Name:       fmt.Sprintf("Co %d", i),
			ProfileURL: fmt.Sprintf("https://www.ycombinator.com/companies/co-%d", i),
		})
	}

	n, err := s.UpsertCompanies(ctx, companies)
	require.NoError(t, err)
	assert.Equal(t, int64(1201), n)

	count, err := s.CountCompanies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1201, count)
}

func TestSQLiteStore_UpsertCompanies_Empty(t *testing.T) {
	s := newTestSQLiteStore(t)

	n, err := s.UpsertCompanies(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLiteStore_ListCompanies_OrdersByName(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.UpsertCompanies(ctx, []model.Company{
		{Name: "Zephyr", ProfileURL: "https://www.ycombinator.com/companies/zephyr"},
		{Name: "Acme", ProfileURL: "https://www.ycombinator.com/companies/acme"},
		{Name: "Mango", ProfileURL: "https://www.ycombinator.com/companies/mango"},
	})
	require.NoError(t, err)

	companies, err := s.ListCompanies(ctx, CompanyFilter{})
	require.NoError(t, err)
	require.Len(t, companies, 3)
	assert.Equal(t, "Acme", companies[0].Name)
	assert.Equal(t, "Mango", companies[1].Name)
	assert.Equal(t, "Zephyr", companies[2].Name)

	limited, err := s.ListCompanies(ctx, CompanyFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "Mango", limited[0].Name)
}

func TestSQLiteStore_IngestRunLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := s.CreateIngestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.IngestStatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	report := &model.RunReport{
		Strategy: "index",
		Stages: []model.StageYield{
			{Stage: "segmented", Produced: 4821, Total: 4821},
		},
		Total:    4821,
		Duration: 95000,
	}
	require.NoError(t, s.CompleteIngestRun(ctx, run.ID, report, nil))

	got, err := s.GetIngestRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IngestStatusComplete, got.Status)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.Report)
	assert.Equal(t, 4821, got.Report.Total)
	assert.Equal(t, "segmented", got.Report.Stages[0].Stage)
}

func TestSQLiteStore_CompleteIngestRun_Failed(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := s.CreateIngestRun(ctx)
	require.NoError(t, err)

	require.NoError(t, s.CompleteIngestRun(ctx, run.ID, nil, errors.New("browser crashed")))

	got, err := s.GetIngestRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IngestStatusFailed, got.Status)
	assert.Equal(t, "browser crashed", got.Error)
	assert.Nil(t, got.Report)
}

func TestSQLiteStore_CompleteIngestRun_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.CompleteIngestRun(context.Background(), "missing", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest run not found")
}

func TestSQLiteStore_GetIngestRun_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetIngestRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_ListIngestRuns_NewestFirst(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := s.CreateIngestRun(ctx)
	require.NoError(t, err)
	second, err := s.CreateIngestRun(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CompleteIngestRun(ctx, second.ID, &model.RunReport{Strategy: "dom", Total: 2100}, nil))

	runs, err := s.ListIngestRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	ids := []string{runs[0].ID, runs[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)
}

func TestStoreInterfaceCompliance(t *testing.T) {
	var _ Store = (*SQLiteStore)(nil)
	var _ Store = (*PostgresStore)(nil)
}
