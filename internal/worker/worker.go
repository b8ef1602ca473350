package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"clausewise.app/analyzer/common/logger"
	"clausewise.app/analyzer/common/metrics"
	"clausewise.app/analyzer/internal/pipeline"
	"clausewise.app/analyzer/internal/queue"
)

// Requeue destinations as recorded on the requeue counter.
const (
	DestinationStream = "stream"
	DestinationDLQ    = "dlq"
)

type Config struct {
	Concurrency int
	MaxAttempts int
	// ErrorBackoff is the pause after a failed read before polling again.
	ErrorBackoff time.Duration
	// Heartbeat is how often a running job's pending entry is touched so the
	// reclaimer never sees it as idle. Must stay well below the reclaimer's
	// MinIdle. Zero disables it.
	Heartbeat time.Duration
}

type Worker struct {
	consumer Consumer
	runner   JobRunner
	metrics  Metrics
	cfg      Config

	mu       sync.Mutex
	inflight map[string]struct{}

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, runner JobRunner, m Metrics, cfg Config) *Worker {
	if m == nil {
		m = nopMetrics{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		runner:    runner,
		metrics:   m,
		cfg:       cfg,
		inflight:  make(map[string]struct{}),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts Concurrency consumer loops and blocks until ctx is done or
// Stop is called. Jobs within one loop run strictly one after another.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "analyzer.worker",
	})
	slog.InfoContext(ctx, "worker started",
		"concurrency", w.cfg.Concurrency,
		"max_attempts", w.cfg.MaxAttempts)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker loop stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-time.After(w.cfg.ErrorBackoff):
				case <-ctx.Done():
					return ctx.Err()
				case <-w.stopCh:
					return nil
				}
			}
		}
	}
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		w.Handle(ctx, msg)
	}
	return nil
}

// Handle runs one delivered job and settles it on the queue: success and
// stage failures are acked, infrastructure errors are requeued or
// dead-lettered. Exported so the reclaimer can reuse it.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DocumentID: logger.Ptr(msg.Job.DocumentID),
		UserID:     logger.Ptr(msg.Job.UserID),
		JobID:      logger.Ptr(msg.JobID),
		MessageID:  logger.Ptr(msg.ID),
	})

	// The reclaimer can hand back an entry this process is still running.
	if !w.begin(msg.ID) {
		slog.InfoContext(ctx, "message already in flight, skipping")
		return
	}
	defer w.done(msg.ID)

	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_job")
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.String("messaging.message.id", msg.ID),
		attribute.Int("job.attempt", msg.Attempt),
	)

	started, err := w.consumer.MarkStarted(ctx, msg)
	if err != nil {
		sc.RecordError(err)
		w.retry(ctx, msg, err)
		return
	}
	if !started {
		slog.InfoContext(ctx, "job was cancelled, skipping")
		w.metrics.FinishJob(metrics.OutcomeSkipped, 0)
		w.ack(ctx, msg)
		return
	}

	if at := msg.EnqueuedAt(); !at.IsZero() {
		w.metrics.ObserveQueueLag(time.Since(at))
	}

	slog.InfoContext(ctx, "processing job", "attempt", msg.Attempt)

	w.metrics.StartJob()
	start := time.Now()
	stopHeartbeat := w.heartbeat(ctx, msg)
	outcome, err := w.runSafe(ctx, msg)
	stopHeartbeat()
	elapsed := time.Since(start)

	if err != nil {
		sc.RecordError(err)
		w.metrics.FinishJob(metrics.OutcomeErrored, elapsed)
		slog.ErrorContext(ctx, "job processing failed",
			"error", err,
			"attempt", msg.Attempt,
			"duration_ms", elapsed.Milliseconds())
		w.retry(ctx, msg, err)
		return
	}

	w.metrics.FinishJob(string(outcome), elapsed)
	slog.InfoContext(ctx, "job finished",
		"outcome", outcome,
		"duration_ms", elapsed.Milliseconds())
	w.ack(ctx, msg)
}

func (w *Worker) begin(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inflight[id]; ok {
		return false
	}
	w.inflight[id] = struct{}{}
	return true
}

func (w *Worker) done(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
}

// heartbeat touches the pending entry until the returned stop func is called.
func (w *Worker) heartbeat(ctx context.Context, msg queue.Message) func() {
	if w.cfg.Heartbeat <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.consumer.Touch(ctx, msg); err != nil && ctx.Err() == nil {
					slog.WarnContext(ctx, "failed to refresh pending job", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-stopped
	}
}

func jobOf(msg queue.Message) pipeline.Job {
	return pipeline.Job{
		JobID:      msg.JobID,
		DocumentID: msg.Job.DocumentID,
		UserID:     msg.Job.UserID,
		Attempt:    msg.Attempt,
	}
}

func (w *Worker) runSafe(ctx context.Context, msg queue.Message) (outcome pipeline.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in job processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.runner.Run(ctx, jobOf(msg))
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// The entry stays pending; the reclaimer will redeliver it and the
		// document claim makes the rerun a no-op.
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}
}

func (w *Worker) retry(ctx context.Context, msg queue.Message, cause error) {
	if errors.Is(cause, context.Canceled) && ctx.Err() != nil {
		// Shutting down: leave the entry pending for the reclaimer.
		return
	}

	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"attempts", msg.Attempt)
		if err := w.runner.Abandon(ctx, jobOf(msg), cause.Error()); err != nil {
			// Still dead-letter; the DLQ entry keeps the job for replay.
			slog.ErrorContext(ctx, "failed to mark abandoned document failed", "error", err)
		}
		if err := w.consumer.SendDLQ(ctx, msg, cause.Error()); err != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", err)
			return
		}
		w.metrics.ObserveRequeue(DestinationDLQ)
		return
	}

	slog.WarnContext(ctx, "requeuing failed job", "attempt", msg.Attempt)
	if err := w.consumer.Requeue(ctx, msg, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", err)
		return
	}
	w.metrics.ObserveRequeue(DestinationStream)
}
