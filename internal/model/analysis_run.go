package model

import "time"

type AnalysisRunStatus string

const (
	AnalysisRunStatusRunning   AnalysisRunStatus = "running"
	AnalysisRunStatusCompleted AnalysisRunStatus = "completed"
	AnalysisRunStatusFailed    AnalysisRunStatus = "failed"
	AnalysisRunStatusErrored   AnalysisRunStatus = "errored" // infrastructure error, job will be retried or dead-lettered
)

// AnalysisRun records one attempt of one job against a document.
type AnalysisRun struct {
	ID         int64             `json:"id"`
	DocumentID string            `json:"documentId"`
	JobID      string            `json:"jobId"`
	Attempt    int32             `json:"attempt"`
	Status     AnalysisRunStatus `json:"status"`
	Stage      *string           `json:"stage,omitempty"`
	Error      *string           `json:"error,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
}
