package dto

import (
	"time"

	"clausewise.app/analyzer/internal/model"
)

type SubmitDocumentRequest struct {
	Title   string `json:"title" binding:"max=255"`
	Content string `json:"content" binding:"required"`
}

type SubmitDocumentResponse struct {
	DocumentID string               `json:"documentId"`
	JobID      string               `json:"jobId"`
	Status     model.DocumentStatus `json:"status"`
}

type AnalysisRunResponse struct {
	Attempt    int32                   `json:"attempt"`
	Status     model.AnalysisRunStatus `json:"status"`
	Stage      *string                 `json:"stage,omitempty"`
	Error      *string                 `json:"error,omitempty"`
	StartedAt  time.Time               `json:"startedAt"`
	FinishedAt *time.Time              `json:"finishedAt,omitempty"`
}

type DocumentResponse struct {
	*model.Document
	Runs []AnalysisRunResponse `json:"runs"`
}

func ToDocumentResponse(doc *model.Document, runs []model.AnalysisRun) *DocumentResponse {
	out := make([]AnalysisRunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, AnalysisRunResponse{
			Attempt:    r.Attempt,
			Status:     r.Status,
			Stage:      r.Stage,
			Error:      r.Error,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		})
	}
	return &DocumentResponse{Document: doc, Runs: out}
}
