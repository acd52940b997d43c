package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/directory-cli/internal/ingest"
	"github.com/sells-group/directory-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	finished := now.Add(2 * time.Minute)
	runs := []model.IngestRun{
		{
			ID:     "abc12345-6789-0000-0000-000000000000",
			Status: model.IngestStatusComplete,
			Report: &model.RunReport{
				Strategy: ingest.StrategyIndex,
				Total:    4821,
			},
			StartedAt:  now,
			FinishedAt: &finished,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.IngestStatusRunning,
			StartedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STRATEGY")
	assert.Contains(t, output, "RECORDS")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "index")
	assert.Contains(t, output, "4821")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2026-03-10 10:30")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	finished := now.Add(30 * time.Second)
	runs := []model.IngestRun{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			Status:     model.IngestStatusFailed,
			Error:      "browser crashed",
			StartedAt:  now,
			FinishedAt: &finished,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "failed")
	// A run that died before reporting shows placeholder record counts.
	assert.Contains(t, output, "-")
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	fin1 := now.Add(2 * time.Minute)
	fin2 := now.Add(8 * time.Minute)
	fin3 := now.Add(10*time.Minute + 30*time.Second)

	runs := []model.IngestRun{
		{
			ID:     "1",
			Status: model.IngestStatusComplete,
			Report: &model.RunReport{
				Strategy: ingest.StrategyIndex,
				Total:    4000,
			},
			StartedAt:  now,
			FinishedAt: &fin1,
		},
		{
			ID:     "2",
			Status: model.IngestStatusComplete,
			Report: &model.RunReport{
				Strategy: ingest.StrategyDOM,
				Total:    2000,
			},
			StartedAt:  now.Add(5 * time.Minute),
			FinishedAt: &fin2,
		},
		{
			ID:         "3",
			Status:     model.IngestStatusFailed,
			Error:      "no credentials observed",
			StartedAt:  now.Add(10 * time.Minute),
			FinishedAt: &fin3,
		},
		{
			ID:        "4",
			Status:    model.IngestStatusRunning,
			StartedAt: now.Add(15 * time.Minute),
		},
	}

	stats := computeRunStats(runs)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Complete)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Index)
	assert.Equal(t, 1, stats.DOM)
	// Average duration of the 2 complete runs: (120s + 180s) / 2 = 150s.
	assert.InDelta(t, 150.0, stats.AvgDurSecs, 0.1)
	// Average records over complete runs: (4000 + 2000) / 2.
	assert.InDelta(t, 3000.0, stats.AvgRecords, 0.1)

	stats.Stored = 4100

	var buf bytes.Buffer
	formatRunStats(&buf, stats)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "Complete:")
	assert.Contains(t, output, "Failed:")
	assert.Contains(t, output, "Via index:")
	assert.Contains(t, output, "Via DOM:")
	assert.Contains(t, output, "150.0s")
	assert.Contains(t, output, "3000")
	assert.Contains(t, output, "Companies stored:")
	assert.Contains(t, output, "4100")
}

func TestRunsStats_Empty(t *testing.T) {
	stats := computeRunStats(nil)
	assert.Equal(t, 0, stats.Total)
	assert.Zero(t, stats.AvgDurSecs)

	var buf bytes.Buffer
	formatRunStats(&buf, stats)
	assert.Contains(t, buf.String(), "Total runs:")
	assert.NotContains(t, buf.String(), "Avg duration:")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatCompanies(t *testing.T) {
	companies := []model.Company{
		{
			Name:       "Airbnb",
			ProfileURL: "https://www.ycombinator.com/companies/airbnb",
			Batch:      "W09",
			Location:   "San Francisco, CA, USA",
			OneLiner:   "Book accommodations around the world.",
		},
		{
			Name:       "Stripe",
			ProfileURL: "https://www.ycombinator.com/companies/stripe",
			Batch:      "S09",
			Location:   "San Francisco, CA, USA",
			OneLiner:   "Economic infrastructure for the internet. A very long tagline that keeps going well past the display cutoff.",
		},
	}

	var buf bytes.Buffer
	formatCompanies(&buf, companies)

	output := buf.String()
	assert.Contains(t, output, "NAME")
	assert.Contains(t, output, "BATCH")
	assert.Contains(t, output, "Airbnb")
	assert.Contains(t, output, "W09")
	assert.Contains(t, output, "Stripe")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, "display cutoff")
}
