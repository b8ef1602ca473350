package worker

import (
	"context"
	"time"

	"clausewise.app/analyzer/internal/pipeline"
	"clausewise.app/analyzer/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Claim(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
	MarkStarted(ctx context.Context, msg queue.Message) (bool, error)
	// Touch resets the idle time of a pending entry held by this consumer.
	Touch(ctx context.Context, msg queue.Message) error
}

// JobRunner abstracts the analysis pipeline for testability.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job) (pipeline.Outcome, error)
	// Abandon settles the document of a job that is about to be dead-lettered.
	Abandon(ctx context.Context, job pipeline.Job, cause string) error
}

// Metrics is the subset of the Prometheus instruments the worker records.
type Metrics interface {
	StartJob()
	FinishJob(outcome string, d time.Duration)
	ObserveQueueLag(d time.Duration)
	ObserveRequeue(destination string)
}

type nopMetrics struct{}

func (nopMetrics) StartJob()                       {}
func (nopMetrics) FinishJob(string, time.Duration) {}
func (nopMetrics) ObserveQueueLag(time.Duration)   {}
func (nopMetrics) ObserveRequeue(string)           {}
