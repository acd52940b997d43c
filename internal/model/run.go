package model

import "time"

// IngestStatus represents the lifecycle state of an ingest run.
type IngestStatus string

const (
	IngestStatusRunning  IngestStatus = "running"
	IngestStatusComplete IngestStatus = "complete"
	IngestStatusFailed   IngestStatus = "failed"
)

// StageYield records how many records one acquisition stage produced and the
// merged total after folding it into the run's result set.
type StageYield struct {
	Stage    string `json:"stage"`
	Produced int    `json:"produced"`
	Total    int    `json:"total"`
}

// RunReport summarizes a finished ingest run for the operator and the audit
// trail: which strategy path was taken, what each stage yielded, and the
// final deduplicated count.
type RunReport struct {
	Strategy string       `json:"strategy"`
	Stages   []StageYield `json:"stages"`
	Total    int          `json:"total"`
	Duration int64        `json:"duration_ms"`
}

// IngestRun is the persisted audit record for one ingestion.
type IngestRun struct {
	ID         string       `json:"id"`
	Status     IngestStatus `json:"status"`
	Report     *RunReport   `json:"report,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}
