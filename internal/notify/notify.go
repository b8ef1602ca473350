package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"clausewise.app/analyzer/internal/model"
)

// Progress events, in the order a successful run emits them.
const (
	EventStarted          = "document-analysis-started"
	EventProcessing       = "document-analysis-processing"
	EventValidated        = "document-analysis-validated"
	EventStructured       = "document-analysis-structured"
	EventSummarized       = "document-analysis-summarized"
	EventDetailsExtracted = "document-analysis-details-extracted"
	EventCompleted        = "document-analysis-completed"
	EventFailed           = "document-analysis-failed"
)

// Notifier delivers progress events to everyone listening on a room.
type Notifier interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// Subscriber is implemented by backends that can relay a room back out,
// used by the SSE endpoint.
type Subscriber interface {
	Subscribe(ctx context.Context, room string) (<-chan Message, error)
}

// Message is the envelope written to the transport.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func UserRoom(userID string) string {
	return "user:" + userID
}

func encode(event string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(Message{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return data, nil
}

type DocumentPayload struct {
	DocumentID string `json:"documentId"`
}

type ValidatedPayload struct {
	DocumentID      string             `json:"documentId"`
	IsValidContract bool               `json:"isValidContract"`
	ContractType    model.ContractType `json:"contractType"`
	ConfidenceScore int                `json:"confidenceScore"`
	Reason          string             `json:"reason"`
	InScope         bool               `json:"inScope"`
}

type StructuredPayload struct {
	DocumentID         string                    `json:"documentId"`
	StructuredContract *model.StructuredContract `json:"structuredContract"`
}

type SummarizedPayload struct {
	DocumentID string         `json:"documentId"`
	Summary    *model.Summary `json:"summary"`
}

type DetailsExtractedPayload struct {
	DocumentID        string                   `json:"documentId"`
	ExtractionDetails *model.ExtractionDetails `json:"extractionDetails"`
}

type FailedPayload struct {
	DocumentID    string `json:"documentId"`
	FailureReason string `json:"failureReason"`
}

func Validated(documentID string, v model.ValidationMetadata) ValidatedPayload {
	return ValidatedPayload{
		DocumentID:      documentID,
		IsValidContract: v.IsValidContract,
		ContractType:    v.ContractType,
		ConfidenceScore: v.ConfidenceScore,
		Reason:          v.Reason,
		InScope:         v.InScope,
	}
}

// bestEffort swallows transport failures. Progress events are advisory; the
// document row is the source of truth.
type bestEffort struct {
	next   Notifier
	logger *slog.Logger
}

func BestEffort(next Notifier, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &bestEffort{next: next, logger: logger}
}

func (b *bestEffort) Publish(ctx context.Context, room, event string, payload any) error {
	if err := b.next.Publish(ctx, room, event, payload); err != nil {
		b.logger.WarnContext(ctx, "failed to publish progress event",
			"room", room,
			"event", event,
			"error", err)
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
