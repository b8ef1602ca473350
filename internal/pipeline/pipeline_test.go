package pipeline_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"clausewise.app/analyzer/internal/analysis"
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/model"
	"clausewise.app/analyzer/internal/notify"
	"clausewise.app/analyzer/internal/pipeline"
)

const (
	validNDA = `{"isValidContract":true,"inScope":true,"contractType":"NDA","confidenceScore":95,"reason":"Mutual NDA"}`

	structured = `{
		"html": "<h1 id=\"h-1\">Confidentiality</h1><p id=\"p-1\">The parties agree...</p>",
		"tokens": [
			{"start": 0, "end": 15, "text": "Confidentiality", "elementType": "heading", "elementId": "h-1"},
			{"start": 16, "end": 36, "text": "The parties agree...", "elementType": "paragraph", "elementId": "p-1"}
		],
		"metadata": {"headingCount": 1, "paragraphCount": 1, "listCount": 0, "totalTokens": 2}
	}`

	summary = `{
		"duration": "2 years",
		"jurisdiction": "Delaware",
		"effectiveDate": "2024-01-01",
		"rawSummary": "Mutual NDA covering confidential information exchanged for evaluation.",
		"summary": "Both companies promise to keep each other's secrets for two years. If either side leaks information, the other can go to court in Delaware to stop it.",
		"overview": "A mutual confidentiality agreement.",
		"overallRiskScore": 35,
		"confidenceScore": 88,
		"partyCount": 2,
		"hasTerminationClause": true
	}`

	extraction = `{
		"clauses": [{"title": "Term", "text": "Two years.", "startIndex": 10, "endIndex": 20, "confidenceScore": 92}],
		"risks": [{"title": "Broad scope", "description": "Covers everything", "riskLevel": "High", "startIndex": 1, "endIndex": 5, "confidenceScore": 70}],
		"obligations": [],
		"suggestions": []
	}`
)

var _ = Describe("Pipeline", func() {
	var (
		ctx      context.Context
		client   *stageLLM
		content  *memCache
		stores   *memStores
		notifier *recordingNotifier
		observer *recordingObserver
		p        *pipeline.Pipeline
		job      pipeline.Job
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &stageLLM{responses: map[string]string{
			"contract_validation": validNDA,
			"structured_contract": structured,
			"contract_summary":    summary,
			"":                    extraction,
		}}
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
		observer = &recordingObserver{}

		caller := analysis.NewCaller(client)
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
			Observer: observer,
		})
		job = pipeline.Job{JobID: "J1", DocumentID: "D1", UserID: "U1", Attempt: 1}
	})

	It("runs every stage and completes the document", func() {
		outcome, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(pipeline.OutcomeCompleted))

		doc := stores.doc("D1")
		Expect(doc.Status).To(Equal(model.DocumentStatusCompleted))
		Expect(doc.ValidationMetadata.ContractType).To(Equal(model.ContractTypeNDA))
		Expect(doc.StructuredContract.Tokens).To(HaveLen(2))
		Expect(doc.Summary.Jurisdiction).To(Equal("Delaware"))
		Expect(doc.Clauses).To(HaveLen(1))
		Expect(doc.ExtractionMetadata.TotalRisks).To(Equal(1))

		Expect(notifier.names()).To(Equal([]string{
			notify.EventProcessing,
			notify.EventValidated,
			notify.EventStructured,
			notify.EventSummarized,
			notify.EventDetailsExtracted,
			notify.EventCompleted,
		}))
		Expect(notifier.last().Room).To(Equal("user:U1"))

		run := stores.lastRun()
		Expect(run.Status).To(Equal(model.AnalysisRunStatusCompleted))
		Expect(*run.Stage).To(Equal(analysis.StageExtract))

		Expect(observer.obs).To(Equal([]stageObservation{
			{Stage: analysis.StageValidate, OK: true},
			{Stage: analysis.StageStructure, OK: true},
			{Stage: analysis.StageSummarize, OK: true},
			{Stage: analysis.StageExtract, OK: true},
		}))
	})

	It("fails with a clear reason when the cached content is gone", func() {
		delete(content.data, cache.DocumentKey("D1"))

		outcome, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(pipeline.OutcomeFailed))

		doc := stores.doc("D1")
		Expect(doc.Status).To(Equal(model.DocumentStatusFailed))
		Expect(doc.FailureReason).To(Equal("Document content not found"))
		Expect(client.calls()).To(BeZero())

		Expect(notifier.names()).To(Equal([]string{notify.EventProcessing, notify.EventFailed}))
		Expect(notifier.last().Payload).To(Equal(notify.FailedPayload{
			DocumentID:    "D1",
			FailureReason: "Document content not found",
		}))
		Expect(stores.lastRun().Status).To(Equal(model.AnalysisRunStatusFailed))
	})

	It("stops after a rejected validation without later-stage events", func() {
		client.responses["contract_validation"] = `{"isValidContract":false,"inScope":false,"contractType":"Other","confidenceScore":90,"reason":"Lease agreement"}`

		outcome, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(pipeline.OutcomeFailed))

		doc := stores.doc("D1")
		Expect(doc.Status).To(Equal(model.DocumentStatusFailed))
		Expect(doc.FailureReason).To(Equal("Lease agreement"))
		Expect(doc.StructuredContract).To(BeNil())
		Expect(client.calls()).To(Equal(1))
		Expect(notifier.names()).To(Equal([]string{notify.EventProcessing, notify.EventFailed}))
		Expect(observer.obs).To(Equal([]stageObservation{{Stage: analysis.StageValidate, OK: false}}))
	})

	It("keeps earlier stage results when a later stage fails", func() {
		client.responses["contract_summary"] = `{"duration":"","jurisdiction":"x"}`

		outcome, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(pipeline.OutcomeFailed))

		doc := stores.doc("D1")
		Expect(doc.ValidationMetadata).NotTo(BeNil())
		Expect(doc.StructuredContract).NotTo(BeNil())
		Expect(doc.Summary).To(BeNil())
		Expect(doc.FailureReason).To(HavePrefix("Invalid summary"))
		Expect(notifier.names()).To(Equal([]string{
			notify.EventProcessing,
			notify.EventValidated,
			notify.EventStructured,
			notify.EventFailed,
		}))
	})

	It("reports a missing document", func() {
		job.DocumentID = "missing"

		outcome, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(pipeline.OutcomeFailed))
		Expect(notifier.last()).To(Equal(published{
			Room:    "user:U1",
			Event:   notify.EventFailed,
			Payload: notify.FailedPayload{DocumentID: "missing", FailureReason: pipeline.ReasonDocumentNotFound},
		}))
	})

	It("skips documents that already finished", func() {
		_, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		notifier.events = nil

		job.JobID = "J2"
		outcome, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(pipeline.OutcomeSkipped))
		Expect(notifier.events).To(BeEmpty())
	})

	It("skips a document owned by another job", func() {
		claimed, err := stores.Documents().Claim(ctx, "D1", "other")
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(BeTrue())

		outcome, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(pipeline.OutcomeSkipped))
		Expect(client.calls()).To(BeZero())
	})

	It("resumes a document claimed by an earlier attempt of the same job", func() {
		_, err := stores.Documents().Claim(ctx, "D1", "J1")
		Expect(err).NotTo(HaveOccurred())

		job.Attempt = 2
		outcome, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(pipeline.OutcomeCompleted))
		Expect(stores.lastRun().Attempt).To(Equal(int32(2)))
		Expect(notifier.names()).NotTo(ContainElement(notify.EventProcessing))
		Expect(notifier.names()).To(ContainElement(notify.EventCompleted))
	})

	It("returns infrastructure errors for retry without failing the document", func() {
		content.getErr = errors.New("connection refused")

		_, err := p.Run(ctx, job)
		Expect(err).To(MatchError(ContainSubstring("connection refused")))

		Expect(stores.doc("D1").Status).To(Equal(model.DocumentStatusProcessing))
		Expect(stores.lastRun().Status).To(Equal(model.AnalysisRunStatusErrored))
		Expect(notifier.names()).NotTo(ContainElement(notify.EventFailed))
	})

	It("returns store read errors for retry", func() {
		stores.getErr = errors.New("db down")

		_, err := p.Run(ctx, job)
		Expect(err).To(MatchError(ContainSubstring("db down")))
		Expect(notifier.events).To(BeEmpty())
	})

	It("completes even when progress events cannot be delivered", func() {
		notifier.err = errors.New("pubsub down")

		outcome, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(pipeline.OutcomeCompleted))
	})

	It("personalizes later stages with the user's profile", func() {
		stores.profiles["U1"] = &model.UserProfile{UserID: "U1", Profession: "Startup founder"}

		_, err := p.Run(ctx, job)
		Expect(err).NotTo(HaveOccurred())

		req, ok := client.request("contract_summary")
		Expect(ok).To(BeTrue())
		Expect(strings.Contains(req.UserPrompt, "Startup founder")).To(BeTrue())
	})
})
