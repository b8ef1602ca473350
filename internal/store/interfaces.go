package store

import (
	"context"
	"database/sql"
	"errors"

	"clausewise.app/analyzer/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNotProcessing is returned when a pipeline write targets a document that
// is no longer PROCESSING, for example because another job already finished it.
var ErrNotProcessing = errors.New("document is not processing")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DocumentStore defines the contract for document data access. Every pipeline
// write touches only the fields of one stage.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	// Claim moves a PENDING document to PROCESSING under jobID. A document
	// already PROCESSING under the same jobID is claimed again so a retried
	// job can resume. Returns false when the document is owned elsewhere or
	// already terminal.
	Claim(ctx context.Context, id, jobID string) (bool, error)
	SaveValidation(ctx context.Context, id string, meta model.ValidationMetadata) error
	SaveStructure(ctx context.Context, id string, sc model.StructuredContract) error
	SaveSummary(ctx context.Context, id string, s model.Summary) error
	Complete(ctx context.Context, id string, details model.ExtractionDetails) error
	Fail(ctx context.Context, id, reason string) error
	// Delete removes a document that is still PENDING. Other states are left alone.
	Delete(ctx context.Context, id string) error
}

// AnalysisRunStore records one row per job attempt.
type AnalysisRunStore interface {
	Create(ctx context.Context, run *model.AnalysisRun) (*model.AnalysisRun, error)
	SetStage(ctx context.Context, id int64, stage string) error
	Finish(ctx context.Context, id int64, status model.AnalysisRunStatus, errMsg *string) error
	ListByDocument(ctx context.Context, documentID string, limit int32) ([]model.AnalysisRun, error)
}

// ProfileStore looks up the optional reader profile used to personalize prompts.
type ProfileStore interface {
	// GetByUserID returns nil, nil when the user has no profile.
	GetByUserID(ctx context.Context, userID string) (*model.UserProfile, error)
}
