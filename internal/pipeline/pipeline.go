// Package pipeline runs the four analysis stages for one job and keeps the
// document row, the run record and the user's progress feed in step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"clausewise.app/analyzer/common/logger"
	"clausewise.app/analyzer/internal/analysis"
	"clausewise.app/analyzer/internal/model"
	"clausewise.app/analyzer/internal/notify"
	"clausewise.app/analyzer/internal/store"
)

const (
	// ReasonDocumentNotFound is reported when a job references a missing document.
	ReasonDocumentNotFound = "Document not found"
	// ReasonAbandoned is shown when a job ran out of attempts on
	// infrastructure errors and was dead-lettered.
	ReasonAbandoned = "Document analysis could not be completed. Please try again later."
)

type Validator interface {
	Validate(ctx context.Context, documentID string) (analysis.Result[model.ValidationMetadata], error)
}

type Structurer interface {
	Structure(ctx context.Context, documentID string) (analysis.Result[model.StructuredContract], error)
}

type Summarizer interface {
	Summarize(ctx context.Context, in analysis.StageInput) (analysis.Result[model.Summary], error)
}

type Extractor interface {
	Extract(ctx context.Context, in analysis.StageInput) (analysis.Result[model.ExtractionDetails], error)
}

// StageObserver receives per-stage timings.
type StageObserver interface {
	ObserveStage(stage string, ok bool, d time.Duration)
}

type Stages struct {
	Validator  Validator
	Structurer Structurer
	Summarizer Summarizer
	Extractor  Extractor
}

type Deps struct {
	Stages   Stages
	Stores   store.StoreProvider
	Tx       store.TxRunner
	Notifier notify.Notifier
	Observer StageObserver
}

// Outcome is how a job ended when there was no infrastructure error.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

type Job struct {
	JobID      string
	DocumentID string
	UserID     string
	Attempt    int
}

type Pipeline struct {
	stages   Stages
	stores   store.StoreProvider
	tx       store.TxRunner
	notifier notify.Notifier
	observer StageObserver
}

func New(d Deps) *Pipeline {
	n := d.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	return &Pipeline{
		stages:   d.Stages,
		stores:   d.Stores,
		tx:       d.Tx,
		notifier: n,
		observer: d.Observer,
	}
}

// run carries the state of one job through the stages.
type run struct {
	job   Job
	room  string
	runID int64
	doc   *model.Document
}

func jobContext(ctx context.Context, job Job) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		DocumentID: logger.Ptr(job.DocumentID),
		UserID:     logger.Ptr(job.UserID),
		JobID:      logger.Ptr(job.JobID),
		Component:  "analyzer.pipeline",
	})
}

// Run executes the job. A non-nil error means an infrastructure problem and
// the job should be retried; stage failures are reported as OutcomeFailed.
func (p *Pipeline) Run(ctx context.Context, job Job) (Outcome, error) {
	ctx = jobContext(ctx, job)

	sc := logger.StartSpan(ctx, "pipeline.run")
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.String("document.id", job.DocumentID),
		attribute.String("job.id", job.JobID),
		attribute.Int("job.attempt", job.Attempt),
	)

	r := &run{job: job, room: notify.UserRoom(job.UserID)}

	doc, err := p.stores.Documents().GetByID(ctx, job.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "document not found for job")
		p.emit(ctx, r, notify.EventFailed, notify.FailedPayload{
			DocumentID:    job.DocumentID,
			FailureReason: ReasonDocumentNotFound,
		})
		sc.Fail(ReasonDocumentNotFound)
		return OutcomeFailed, nil
	}
	if err != nil {
		sc.RecordError(err)
		return "", fmt.Errorf("load document: %w", err)
	}
	r.doc = doc

	claimed, err := p.stores.Documents().Claim(ctx, job.DocumentID, job.JobID)
	if err != nil {
		sc.RecordError(err)
		return "", fmt.Errorf("claim document: %w", err)
	}
	if !claimed {
		slog.InfoContext(ctx, "document already analyzed or owned by another job, skipping",
			"status", doc.Status)
		return OutcomeSkipped, nil
	}

	created, err := p.stores.AnalysisRuns().Create(ctx, &model.AnalysisRun{
		DocumentID: job.DocumentID,
		JobID:      job.JobID,
		Attempt:    int32(job.Attempt),
		Status:     model.AnalysisRunStatusRunning,
	})
	if err != nil {
		sc.RecordError(err)
		return "", fmt.Errorf("create analysis run: %w", err)
	}
	r.runID = created.ID

	outcome, err := p.runStages(ctx, r)
	switch {
	case errors.Is(err, store.ErrNotProcessing):
		// Someone else finished the document between our writes.
		slog.WarnContext(ctx, "document left processing mid-run, skipping")
		p.finishRun(ctx, r, model.AnalysisRunStatusFailed, err.Error())
		return OutcomeSkipped, nil
	case err != nil:
		sc.RecordError(err)
		p.finishRun(ctx, r, model.AnalysisRunStatusErrored, err.Error())
		return "", err
	}
	return outcome, nil
}

func (p *Pipeline) runStages(ctx context.Context, r *run) (Outcome, error) {
	docs := p.stores.Documents()
	id := r.job.DocumentID

	// Retries and resumed runs already announced processing.
	if r.doc.Status == model.DocumentStatusPending {
		p.emit(ctx, r, notify.EventProcessing, struct{}{})
	}

	validation, err := stage(ctx, p, r, analysis.StageValidate, func(ctx context.Context) (analysis.Result[model.ValidationMetadata], error) {
		return p.stages.Validator.Validate(ctx, id)
	})
	if err != nil {
		return "", err
	}
	if !validation.IsOk() {
		return p.fail(ctx, r, validation.Reason())
	}
	meta := validation.Value()
	if err := docs.SaveValidation(ctx, id, meta); err != nil {
		return "", fmt.Errorf("save validation: %w", err)
	}
	p.emit(ctx, r, notify.EventValidated, notify.Validated(id, meta))

	structure, err := stage(ctx, p, r, analysis.StageStructure, func(ctx context.Context) (analysis.Result[model.StructuredContract], error) {
		return p.stages.Structurer.Structure(ctx, id)
	})
	if err != nil {
		return "", err
	}
	if !structure.IsOk() {
		return p.fail(ctx, r, structure.Reason())
	}
	sc := structure.Value()
	if err := docs.SaveStructure(ctx, id, sc); err != nil {
		return "", fmt.Errorf("save structure: %w", err)
	}
	p.emit(ctx, r, notify.EventStructured, notify.StructuredPayload{DocumentID: id, StructuredContract: &sc})

	in := analysis.StageInput{
		DocumentID:   id,
		ContractType: meta.ContractType,
		HTML:         sc.HTML,
		Profile:      p.profile(ctx, r.job.UserID),
	}

	summary, err := stage(ctx, p, r, analysis.StageSummarize, func(ctx context.Context) (analysis.Result[model.Summary], error) {
		return p.stages.Summarizer.Summarize(ctx, in)
	})
	if err != nil {
		return "", err
	}
	if !summary.IsOk() {
		return p.fail(ctx, r, summary.Reason())
	}
	s := summary.Value()
	if err := docs.SaveSummary(ctx, id, s); err != nil {
		return "", fmt.Errorf("save summary: %w", err)
	}
	p.emit(ctx, r, notify.EventSummarized, notify.SummarizedPayload{DocumentID: id, Summary: &s})

	extraction, err := stage(ctx, p, r, analysis.StageExtract, func(ctx context.Context) (analysis.Result[model.ExtractionDetails], error) {
		return p.stages.Extractor.Extract(ctx, in)
	})
	if err != nil {
		return "", err
	}
	if !extraction.IsOk() {
		return p.fail(ctx, r, extraction.Reason())
	}
	details := extraction.Value()

	err = p.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		if err := stores.Documents().Complete(ctx, id, details); err != nil {
			return fmt.Errorf("complete document: %w", err)
		}
		if err := stores.AnalysisRuns().Finish(ctx, r.runID, model.AnalysisRunStatusCompleted, nil); err != nil {
			return fmt.Errorf("finish analysis run: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	p.emit(ctx, r, notify.EventDetailsExtracted, notify.DetailsExtractedPayload{DocumentID: id, ExtractionDetails: &details})
	p.emit(ctx, r, notify.EventCompleted, notify.DocumentPayload{DocumentID: id})

	slog.InfoContext(ctx, "document analysis completed",
		"clauses", details.Metadata.TotalClauses,
		"risks", details.Metadata.TotalRisks,
		"obligations", details.Metadata.TotalObligations,
		"suggestions", details.Metadata.TotalSuggestions)
	return OutcomeCompleted, nil
}

// stage runs one processor with its own span, log fields and timing.
func stage[T any](ctx context.Context, p *Pipeline, r *run, name string, fn func(context.Context) (analysis.Result[T], error)) (analysis.Result[T], error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr(name)})
	sc := logger.StartSpan(ctx, "pipeline."+name)
	defer sc.End()
	ctx = sc.Context()

	if err := p.stores.AnalysisRuns().SetStage(ctx, r.runID, name); err != nil {
		return analysis.Result[T]{}, fmt.Errorf("record stage %s: %w", name, err)
	}

	slog.InfoContext(ctx, "stage started")
	start := time.Now()
	res, err := fn(ctx)
	elapsed := time.Since(start)

	if p.observer != nil {
		p.observer.ObserveStage(name, err == nil && res.IsOk(), elapsed)
	}

	switch {
	case err != nil:
		sc.RecordError(err)
		return res, fmt.Errorf("%s stage: %w", name, err)
	case !res.IsOk():
		sc.Fail(res.Reason())
		slog.WarnContext(ctx, "stage failed",
			"reason", res.Reason(),
			"duration_ms", elapsed.Milliseconds())
	default:
		slog.InfoContext(ctx, "stage completed", "duration_ms", elapsed.Milliseconds())
	}
	return res, nil
}

// fail persists the failure reason and tells the user. Later stages never run.
func (p *Pipeline) fail(ctx context.Context, r *run, reason string) (Outcome, error) {
	err := p.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		if err := stores.Documents().Fail(ctx, r.job.DocumentID, reason); err != nil {
			return fmt.Errorf("fail document: %w", err)
		}
		if err := stores.AnalysisRuns().Finish(ctx, r.runID, model.AnalysisRunStatusFailed, &reason); err != nil {
			return fmt.Errorf("finish analysis run: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	p.emit(ctx, r, notify.EventFailed, notify.FailedPayload{
		DocumentID:    r.job.DocumentID,
		FailureReason: reason,
	})
	slog.InfoContext(ctx, "document analysis failed", "reason", reason)
	return OutcomeFailed, nil
}

// Abandon gives up on a job that exhausted its attempts: the document goes
// FAILED with ReasonAbandoned, the job's latest run records cause, and the
// user is told. Documents that are already terminal or owned by another job
// are left untouched.
func (p *Pipeline) Abandon(ctx context.Context, job Job, cause string) error {
	ctx = jobContext(ctx, job)

	abandoned := false
	err := p.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		claimed, err := stores.Documents().Claim(ctx, job.DocumentID, job.JobID)
		if err != nil {
			return fmt.Errorf("claim document: %w", err)
		}
		if !claimed {
			return nil
		}
		if err := stores.Documents().Fail(ctx, job.DocumentID, ReasonAbandoned); err != nil {
			return fmt.Errorf("fail document: %w", err)
		}

		runs, err := stores.AnalysisRuns().ListByDocument(ctx, job.DocumentID, 1)
		if err != nil {
			return fmt.Errorf("list analysis runs: %w", err)
		}
		if len(runs) == 1 && runs[0].JobID == job.JobID {
			if err := stores.AnalysisRuns().Finish(ctx, runs[0].ID, model.AnalysisRunStatusFailed, &cause); err != nil {
				return fmt.Errorf("finish analysis run: %w", err)
			}
		}
		abandoned = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("abandon job: %w", err)
	}
	if !abandoned {
		slog.InfoContext(ctx, "abandoned job no longer owns its document")
		return nil
	}

	p.emit(ctx, &run{job: job, room: notify.UserRoom(job.UserID)}, notify.EventFailed, notify.FailedPayload{
		DocumentID:    job.DocumentID,
		FailureReason: ReasonAbandoned,
	})
	slog.WarnContext(ctx, "document analysis abandoned", "cause", cause)
	return nil
}

func (p *Pipeline) finishRun(ctx context.Context, r *run, status model.AnalysisRunStatus, msg string) {
	if r.runID == 0 {
		return
	}
	// The job context may already be cancelled; the run row should still close.
	ctx = context.WithoutCancel(ctx)
	if err := p.stores.AnalysisRuns().Finish(ctx, r.runID, status, &msg); err != nil {
		slog.ErrorContext(ctx, "failed to finish analysis run", "error", err, "status", status)
	}
}

// profile is optional personalization; lookup errors degrade to no profile.
func (p *Pipeline) profile(ctx context.Context, userID string) *model.UserProfile {
	prof, err := p.stores.Profiles().GetByUserID(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "failed to load user profile", "error", err)
		return nil
	}
	return prof
}

func (p *Pipeline) emit(ctx context.Context, r *run, event string, payload any) {
	if err := p.notifier.Publish(ctx, r.room, event, payload); err != nil {
		slog.WarnContext(ctx, "failed to publish progress event", "event", event, "error", err)
	}
}
