package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"clausewise.app/analyzer/internal/analysis"
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/model"
	"clausewise.app/analyzer/internal/notify"
	"clausewise.app/analyzer/internal/pipeline"
	"clausewise.app/analyzer/internal/queue"
	"clausewise.app/analyzer/internal/worker"
)

var _ = Describe("Abandon", func() {
	var (
		ctx      context.Context
		content  *memCache
		stores   *memStores
		notifier *recordingNotifier
		p        *pipeline.Pipeline
		job      pipeline.Job
	)

	BeforeEach(func() {
		ctx = context.Background()
		content = &memCache{data: map[string]string{
			cache.DocumentKey("D1"): "Confidentiality\nThe parties agree to keep information secret.",
		}}
		stores = newMemStores()
		Expect(stores.Documents().Create(ctx, &model.Document{
			ID:     "D1",
			UserID: "U1",
			Title:  "Mutual NDA",
			Status: model.DocumentStatusPending,
		})).To(Succeed())
		notifier = &recordingNotifier{}

		caller := analysis.NewCaller(&stageLLM{responses: map[string]string{
			"contract_validation": validNDA,
			"structured_contract": structured,
			"contract_summary":    summary,
			"":                    extraction,
		}})
		p = pipeline.New(pipeline.Deps{
			Stages: pipeline.Stages{
				Validator:  analysis.NewValidator(caller, content),
				Structurer: analysis.NewStructurer(caller, content),
				Summarizer: analysis.NewSummarizer(caller, content),
				Extractor:  analysis.NewExtractor(caller, content),
			},
			Stores:   stores,
			Tx:       stores,
			Notifier: notifier,
		})
		job = pipeline.Job{JobID: "J1", DocumentID: "D1", UserID: "U1", Attempt: 3}
	})

	It("fails a document left processing and closes its run", func() {
		content.getErr = errors.New("redis down")
		_, err := p.Run(ctx, job)
		Expect(err).To(HaveOccurred())

		Expect(p.Abandon(ctx, job, "redis down")).To(Succeed())

		doc := stores.doc("D1")
		Expect(doc.Status).To(Equal(model.DocumentStatusFailed))
		Expect(doc.FailureReason).To(Equal(pipeline.ReasonAbandoned))

		run := stores.lastRun()
		Expect(run.Status).To(Equal(model.AnalysisRunStatusFailed))
		Expect(*run.Error).To(Equal("redis down"))

		Expect(notifier.last()).To(Equal(published{
			Room:    notify.UserRoom("U1"),
			Event:   notify.EventFailed,
			Payload: notify.FailedPayload{DocumentID: "D1", FailureReason: pipeline.ReasonAbandoned},
		}))
	})

	It("fails a document that never left pending", func() {
		Expect(p.Abandon(ctx, job, "db down")).To(Succeed())

		Expect(stores.doc("D1").Status).To(Equal(model.DocumentStatusFailed))
		Expect(notifier.names()).To(Equal([]string{notify.EventFailed}))
	})

	It("leaves finished documents alone", func() {
		_, err := p.Run(ctx, pipeline.Job{JobID: "J1", DocumentID: "D1", UserID: "U1", Attempt: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(stores.doc("D1").Status).To(Equal(model.DocumentStatusCompleted))
		before := len(notifier.names())

		Expect(p.Abandon(ctx, job, "late failure")).To(Succeed())

		Expect(stores.doc("D1").Status).To(Equal(model.DocumentStatusCompleted))
		Expect(notifier.names()).To(HaveLen(before))
	})

	It("leaves documents owned by another job alone", func() {
		_, err := stores.Documents().Claim(ctx, "D1", "other")
		Expect(err).NotTo(HaveOccurred())

		Expect(p.Abandon(ctx, job, "redis down")).To(Succeed())

		Expect(stores.doc("D1").Status).To(Equal(model.DocumentStatusProcessing))
		Expect(notifier.events).To(BeEmpty())
	})

	It("settles the document when the worker dead-letters a job", func() {
		content.getErr = errors.New("redis down")
		consumer := &scriptedConsumer{}
		w := worker.New(consumer, p, nil, worker.Config{MaxAttempts: 3})

		for attempt := 1; attempt <= 3; attempt++ {
			w.Handle(ctx, queue.Message{
				ID:      "1-0",
				JobID:   "J1",
				Job:     queue.Job{DocumentID: "D1", UserID: "U1"},
				Attempt: attempt,
			})
		}

		Expect(consumer.requeued).To(HaveLen(2))
		Expect(consumer.dlq).To(HaveLen(1))
		Expect(consumer.acked).To(BeEmpty())

		doc := stores.doc("D1")
		Expect(doc.Status).To(Equal(model.DocumentStatusFailed))
		Expect(doc.FailureReason).NotTo(BeEmpty())

		Expect(notifier.names()).To(Equal([]string{notify.EventProcessing, notify.EventFailed}))
		Expect(stores.lastRun().Status).To(Equal(model.AnalysisRunStatusFailed))
	})
})

// scriptedConsumer records queue outcomes for messages handed to the worker directly.
type scriptedConsumer struct {
	mu       sync.Mutex
	acked    []string
	requeued []string
	dlq      []string
}

func (c *scriptedConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *scriptedConsumer) Claim(context.Context, time.Duration, int64) ([]queue.Message, error) {
	return nil, nil
}

func (c *scriptedConsumer) Ack(_ context.Context, msg queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg.ID)
	return nil
}

func (c *scriptedConsumer) Requeue(_ context.Context, msg queue.Message, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requeued = append(c.requeued, msg.ID)
	return nil
}

func (c *scriptedConsumer) SendDLQ(_ context.Context, msg queue.Message, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dlq = append(c.dlq, msg.ID)
	return nil
}

func (c *scriptedConsumer) MarkStarted(context.Context, queue.Message) (bool, error) {
	return true, nil
}

func (c *scriptedConsumer) Touch(context.Context, queue.Message) error {
	return nil
}
