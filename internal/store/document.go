package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clausewise.app/analyzer/internal/model"
)

type documentStore struct {
	db DBTX
}

func newDocumentStore(db DBTX) DocumentStore {
	return &documentStore{db: db}
}

func (s *documentStore) Create(ctx context.Context, doc *model.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = model.DocumentStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO documents (id, user_id, title, status, failure_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, doc.ID, doc.UserID, doc.Title, string(doc.Status), doc.FailureReason, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *documentStore) GetByID(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, title, status, failure_reason, job_id,
	validation_metadata, structured_contract, summary,
	clauses, risks, obligations, suggestions, extraction_metadata,
	created_at, updated_at
FROM documents
WHERE id = $1
`, id)

	var (
		doc    model.Document
		status string
		jobID  sql.NullString

		validation, structured, summary, extraction []byte
		clauses, risks, obligations, suggestions    []byte
	)
	err := row.Scan(
		&doc.ID, &doc.UserID, &doc.Title, &status, &doc.FailureReason, &jobID,
		&validation, &structured, &summary,
		&clauses, &risks, &obligations, &suggestions, &extraction,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.Status = model.DocumentStatus(status)
	if jobID.Valid {
		doc.JobID = &jobID.String
	}

	for _, col := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"validation_metadata", validation, &doc.ValidationMetadata},
		{"structured_contract", structured, &doc.StructuredContract},
		{"summary", summary, &doc.Summary},
		{"clauses", clauses, &doc.Clauses},
		{"risks", risks, &doc.Risks},
		{"obligations", obligations, &doc.Obligations},
		{"suggestions", suggestions, &doc.Suggestions},
		{"extraction_metadata", extraction, &doc.ExtractionMetadata},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", col.name, err)
		}
	}

	return &doc, nil
}

func (s *documentStore) Claim(ctx context.Context, id, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET status = 'PROCESSING', job_id = $2, updated_at = $3
WHERE id = $1
	AND (status = 'PENDING' OR (status = 'PROCESSING' AND job_id = $2))
`, id, jobID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim document rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *documentStore) SaveValidation(ctx context.Context, id string, meta model.ValidationMetadata) error {
	return s.updateJSON(ctx, id, "validation_metadata", meta)
}

func (s *documentStore) SaveStructure(ctx context.Context, id string, sc model.StructuredContract) error {
	return s.updateJSON(ctx, id, "structured_contract", sc)
}

func (s *documentStore) SaveSummary(ctx context.Context, id string, summary model.Summary) error {
	return s.updateJSON(ctx, id, "summary", summary)
}

// updateJSON writes one stage column. column is always one of the constants
// above, never caller input.
func (s *documentStore) updateJSON(ctx context.Context, id, column string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", column, err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET `+column+` = $2, updated_at = $3
WHERE id = $1 AND status = 'PROCESSING'
`, id, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return requireOneRow(res, column)
}

func (s *documentStore) Complete(ctx context.Context, id string, d model.ExtractionDetails) error {
	cols := make([][]byte, 0, 5)
	for _, v := range []any{nonNil(d.Clauses), nonNil(d.Risks), nonNil(d.Obligations), nonNil(d.Suggestions), d.Metadata} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal extraction details: %w", err)
		}
		cols = append(cols, b)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET clauses = $2, risks = $3, obligations = $4, suggestions = $5, extraction_metadata = $6,
	status = 'COMPLETED', updated_at = $7
WHERE id = $1 AND status = 'PROCESSING'
`, id, cols[0], cols[1], cols[2], cols[3], cols[4], time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	return requireOneRow(res, "complete")
}

func (s *documentStore) Fail(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET status = 'FAILED', failure_reason = $2, updated_at = $3
WHERE id = $1 AND status = 'PROCESSING'
`, id, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fail document: %w", err)
	}
	return requireOneRow(res, "fail")
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM documents
WHERE id = $1 AND status = 'PENDING'
`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func requireOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotProcessing)
	}
	return nil
}

// nonNil keeps empty arrays as [] in JSONB rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
