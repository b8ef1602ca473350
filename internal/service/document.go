package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"clausewise.app/analyzer/common/id"
	"clausewise.app/analyzer/common/logger"
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/model"
	"clausewise.app/analyzer/internal/notify"
	"clausewise.app/analyzer/internal/queue"
	"clausewise.app/analyzer/internal/store"
)

var (
	ErrEmptyContent     = errors.New("document content is empty")
	ErrDocumentNotFound = errors.New("document not found")
)

const (
	defaultTitle = "Untitled contract"
	maxRunsShown = 20
)

type SubmitRequest struct {
	UserID  string
	Title   string
	Content string
}

type Submission struct {
	DocumentID string
	JobID      string
}

type DocumentService interface {
	// Submit stores a new document and queues it for analysis.
	Submit(ctx context.Context, req SubmitRequest) (*Submission, error)
	// Get returns a document owned by userID.
	Get(ctx context.Context, userID, documentID string) (*model.Document, error)
	// Runs lists the most recent analysis attempts for a document owned by userID.
	Runs(ctx context.Context, userID, documentID string) ([]model.AnalysisRun, error)
	// Cancel withdraws a job of userID that has not started.
	Cancel(ctx context.Context, userID, jobID string) error
}

type documentService struct {
	docs     store.DocumentStore
	runs     store.AnalysisRunStore
	cache    cache.Cache
	producer queue.Producer
	notifier notify.Notifier
}

func NewDocumentService(
	docs store.DocumentStore,
	runs store.AnalysisRunStore,
	c cache.Cache,
	producer queue.Producer,
	notifier notify.Notifier,
) DocumentService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &documentService{
		docs:     docs,
		runs:     runs,
		cache:    c,
		producer: producer,
		notifier: notifier,
	}
}

func (s *documentService) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultTitle
	}

	doc := &model.Document{
		ID:     id.NewString(),
		UserID: req.UserID,
		Title:  title,
		Status: model.DocumentStatusPending,
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DocumentID: logger.Ptr(doc.ID),
		UserID:     logger.Ptr(req.UserID),
	})

	if err := s.docs.Create(ctx, doc); err != nil {
		slog.ErrorContext(ctx, "failed to create document", "error", err)
		return nil, fmt.Errorf("creating document: %w", err)
	}

	if err := s.cache.Set(ctx, cache.DocumentKey(doc.ID), req.Content, cache.DocumentTTL); err != nil {
		slog.ErrorContext(ctx, "failed to cache document content", "error", err)
		s.discard(ctx, doc.ID)
		return nil, fmt.Errorf("caching document content: %w", err)
	}

	jobID, err := s.producer.Enqueue(ctx, queue.Job{DocumentID: doc.ID, UserID: req.UserID})
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue analysis job", "error", err)
		s.discard(ctx, doc.ID)
		return nil, fmt.Errorf("enqueuing analysis job: %w", err)
	}

	if err := s.notifier.Publish(ctx, notify.UserRoom(req.UserID), notify.EventStarted,
		notify.DocumentPayload{DocumentID: doc.ID}); err != nil {
		slog.WarnContext(ctx, "failed to publish progress event", "event", notify.EventStarted, "error", err)
	}

	slog.InfoContext(ctx, "document submitted for analysis", "job_id", jobID)
	return &Submission{DocumentID: doc.ID, JobID: jobID}, nil
}

func (s *documentService) Get(ctx context.Context, userID, documentID string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	if doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *documentService) Runs(ctx context.Context, userID, documentID string) ([]model.AnalysisRun, error) {
	if _, err := s.Get(ctx, userID, documentID); err != nil {
		return nil, err
	}
	runs, err := s.runs.ListByDocument(ctx, documentID, maxRunsShown)
	if err != nil {
		return nil, fmt.Errorf("listing analysis runs: %w", err)
	}
	return runs, nil
}

func (s *documentService) Cancel(ctx context.Context, userID, jobID string) error {
	return s.producer.Cancel(ctx, jobID, userID)
}

// discard removes a document that was never queued so no PENDING row is
// left without a job. The cached content simply expires.
func (s *documentService) discard(ctx context.Context, documentID string) {
	if err := s.docs.Delete(context.WithoutCancel(ctx), documentID); err != nil {
		slog.ErrorContext(ctx, "failed to discard unqueued document", "error", err)
	}
}
