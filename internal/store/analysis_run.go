package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"clausewise.app/analyzer/internal/model"
)

type analysisRunStore struct {
	db DBTX
}

func newAnalysisRunStore(db DBTX) AnalysisRunStore {
	return &analysisRunStore{db: db}
}

func (s *analysisRunStore) Create(ctx context.Context, run *model.AnalysisRun) (*model.AnalysisRun, error) {
	if run.Status == "" {
		run.Status = model.AnalysisRunStatusRunning
	}
	row := s.db.QueryRowContext(ctx, `
INSERT INTO analysis_runs (id, document_id, job_id, attempt, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING started_at
`, run.ID, run.DocumentID, run.JobID, run.Attempt, string(run.Status))

	out := *run
	if err := row.Scan(&out.StartedAt); err != nil {
		return nil, fmt.Errorf("insert analysis run: %w", err)
	}
	return &out, nil
}

func (s *analysisRunStore) SetStage(ctx context.Context, id int64, stage string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE analysis_runs SET stage = $2 WHERE id = $1`, id, stage); err != nil {
		return fmt.Errorf("set analysis run stage: %w", err)
	}
	return nil
}

func (s *analysisRunStore) Finish(ctx context.Context, id int64, status model.AnalysisRunStatus, errMsg *string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE analysis_runs
SET status = $2, error = $3, finished_at = $4
WHERE id = $1
`, id, string(status), errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish analysis run: %w", err)
	}
	return nil
}

func (s *analysisRunStore) ListByDocument(ctx context.Context, documentID string, limit int32) ([]model.AnalysisRun, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, document_id, job_id, attempt, status, stage, error, started_at, finished_at
FROM analysis_runs
WHERE document_id = $1
ORDER BY started_at DESC
LIMIT $2
`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analysis runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.AnalysisRun, 0)
	for rows.Next() {
		var (
			run        model.AnalysisRun
			status     string
			stage      sql.NullString
			errMsg     sql.NullString
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.DocumentID, &run.JobID, &run.Attempt, &status, &stage, &errMsg, &run.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan analysis run: %w", err)
		}
		run.Status = model.AnalysisRunStatus(status)
		if stage.Valid {
			run.Stage = &stage.String
		}
		if errMsg.Valid {
			run.Error = &errMsg.String
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis runs: %w", err)
	}
	return runs, nil
}
