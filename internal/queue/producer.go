package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"clausewise.app/analyzer/common/id"
	"clausewise.app/analyzer/common/logger"
)

type Producer interface {
	// Enqueue records the job and returns its id once Redis has accepted it.
	Enqueue(ctx context.Context, job Job) (string, error)
	// Cancel withdraws a job of userID that has not started yet.
	Cancel(ctx context.Context, jobID, userID string) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	states *JobStates
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		states: NewJobStates(client),
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, job Job) (string, error) {
	if err := job.validate(); err != nil {
		return "", err
	}

	jobID := id.NewString()
	values, err := messageValues(Message{
		JobID:   jobID,
		Job:     job,
		TraceID: logger.TraceID(ctx),
	}, 1)
	if err != nil {
		return "", err
	}

	// State and stream entry land together so a worker never sees a job
	// without its state.
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		queueState(ctx, pipe, jobID, job.UserID)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: values,
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued analysis job",
		"job_id", jobID,
		"document_id", job.DocumentID,
		"stream", p.stream)
	return jobID, nil
}

func (p *redisProducer) Cancel(ctx context.Context, jobID, userID string) error {
	if err := p.states.Cancel(ctx, jobID, userID); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "cancelled analysis job", "job_id", jobID)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
