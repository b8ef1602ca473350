package analysis_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"clausewise.app/analyzer/internal/analysis"
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/model"
)

var _ = Describe("Extractor", func() {
	var (
		ctx       context.Context
		client    *mockLLMClient
		store     *memCache
		extractor *analysis.Extractor
		input     analysis.StageInput
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockLLMClient{}
		store = newMemCache()
		Expect(store.Set(ctx, cache.DocumentKey("D1"), "This Non-Disclosure Agreement...", cache.DocumentTTL)).To(Succeed())
		extractor = analysis.NewExtractor(analysis.NewCaller(client), store)
		input = analysis.StageInput{DocumentID: "D1", ContractType: model.ContractTypeNDA, HTML: "<p>...</p>"}
	})

	extract := func(body string) analysis.Result[model.ExtractionDetails] {
		client.chatFn = respondWith(body)
		res, err := extractor.Extract(ctx, input)
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	It("coerces items into typed details with totals", func() {
		res := extract(`{
			"clauses": [{"title": "Term", "text": "Two years.", "startIndex": 10, "endIndex": 20, "confidenceScore": 92}],
			"risks": [{"title": "Broad scope", "description": "Covers everything", "riskLevel": "High", "startIndex": 1, "endIndex": 5, "confidenceScore": 70}],
			"obligations": [{"title": "Return materials", "description": "On request", "dueDate": "2025-01-01", "startIndex": 0, "endIndex": 4,
				"actionableType": "DELIVERY", "sourceClause": "Return", "shouldAbstain": true, "confidenceScore": 40, "explanation": "You must return files"}],
			"suggestions": [{"title": "Narrow scope", "currentText": "all information", "suggestedText": "marked information",
				"reasoning": "Too broad", "suggestionType": "RISK_MITIGATION", "priority": "HIGH", "startIndex": 2, "endIndex": 3, "confidenceScore": 85}]
		}`)

		Expect(res.IsOk()).To(BeTrue())
		d := res.Value()
		Expect(d.Clauses).To(HaveLen(1))
		Expect(d.Risks[0].RiskLevel).To(Equal(model.RiskLevelHigh))
		Expect(*d.Obligations[0].DueDate).To(Equal("2025-01-01"))
		Expect(d.Obligations[0].ActionableType).To(Equal(model.ActionableTypeDelivery))
		Expect(d.Obligations[0].ShouldAbstain).To(BeTrue())
		Expect(d.Suggestions[0].Priority).To(Equal(model.PriorityHigh))
		Expect(d.Metadata.TotalClauses).To(Equal(1))
		Expect(d.Metadata.TotalRisks).To(Equal(1))
		Expect(d.Metadata.TotalObligations).To(Equal(1))
		Expect(d.Metadata.TotalSuggestions).To(Equal(1))
		Expect(d.Metadata.OverallConfidence).To(BeNumerically("~", (92.0+70+40+85)/4))
		Expect(d.Metadata.ProcessingTimeMs).To(BeNumerically(">=", 0))
	})

	It("sends no schema so aliases can be normalized", func() {
		extract(`{"clauses":[],"risks":[],"obligations":[],"suggestions":[]}`)
		Expect(client.lastRequest().Schema).To(BeNil())
	})

	DescribeTable("coerces invalid confidence to 80",
		func(confidence string) {
			res := extract(`{"clauses":[{"title":"t"` + confidence + `}],"risks":[],"obligations":[],"suggestions":[]}`)
			Expect(res.IsOk()).To(BeTrue())
			Expect(res.Value().Clauses[0].ConfidenceScore).To(Equal(80))
		},
		Entry("missing", ``),
		Entry("zero", `,"confidenceScore":0`),
		Entry("above range", `,"confidenceScore":150`),
		Entry("not a number", `,"confidenceScore":"high"`),
		Entry("null", `,"confidenceScore":null`),
	)

	It("applies enum defaults for unrecognized values", func() {
		res := extract(`{
			"clauses": [],
			"risks": [{"title": "r", "riskLevel": "Catastrophic"}],
			"obligations": [{"title": "o", "actionableType": "DANCE"}],
			"suggestions": [{"title": "s", "suggestionType": "VIBES", "priority": "urgent"}]
		}`)

		Expect(res.IsOk()).To(BeTrue())
		d := res.Value()
		Expect(d.Risks[0].RiskLevel).To(Equal(model.RiskLevelMedium))
		Expect(d.Obligations[0].ActionableType).To(Equal(model.ActionableTypeOther))
		Expect(d.Suggestions[0].SuggestionType).To(Equal(model.SuggestionTypeGeneralImprovement))
		Expect(d.Suggestions[0].Priority).To(Equal(model.PriorityMedium))
	})

	It("accepts snake_case and lowercase variants", func() {
		res := extract(`{
			"clauses": [{"clause_title": "ignored", "title": "Term", "start_index": 4, "end_index": 9, "confidence_score": 77}],
			"risks": [{"title": "r", "risk_level": "low"}],
			"obligations": [{"title": "o", "actionable_type": "payment", "should_abstain": true, "due_date": null, "source_clause": "Fees"}],
			"suggestions": [{"title": "s", "suggestion_type": "missing clause", "priority": "low", "current_text": "a", "suggested_text": "b"}]
		}`)

		Expect(res.IsOk()).To(BeTrue())
		d := res.Value()
		Expect(d.Clauses[0]).To(Equal(model.Clause{Title: "Term", StartIndex: 4, EndIndex: 9, ConfidenceScore: 77}))
		Expect(d.Risks[0].RiskLevel).To(Equal(model.RiskLevelLow))
		Expect(d.Obligations[0].ActionableType).To(Equal(model.ActionableTypePayment))
		Expect(d.Obligations[0].ShouldAbstain).To(BeTrue())
		Expect(d.Obligations[0].DueDate).To(BeNil())
		Expect(d.Obligations[0].SourceClause).To(Equal("Fees"))
		Expect(d.Suggestions[0].SuggestionType).To(Equal(model.SuggestionTypeMissingClause))
		Expect(d.Suggestions[0].CurrentText).To(Equal("a"))
		Expect(d.Suggestions[0].SuggestedText).To(Equal("b"))
	})

	It("carries shouldAbstain verbatim regardless of confidence", func() {
		res := extract(`{"clauses":[],"risks":[],"obligations":[{"title":"o","shouldAbstain":false,"confidenceScore":5}],"suggestions":[]}`)
		Expect(res.Value().Obligations[0].ShouldAbstain).To(BeFalse())
	})

	It("uses a numeric overall confidence when supplied", func() {
		res := extract(`{"clauses":[{"title":"t","confidenceScore":10}],"risks":[],"obligations":[],"suggestions":[],"metadata":{"overallConfidence":73.5}}`)
		Expect(res.IsOk()).To(BeTrue())
		Expect(res.Value().Metadata.OverallConfidence).To(Equal(73.5))
	})

	It("fails when overall confidence is not numeric", func() {
		res := extract(`{"clauses":[],"risks":[],"obligations":[],"suggestions":[],"metadata":{"overallConfidence":"high"}}`)
		Expect(res.IsOk()).To(BeFalse())
		Expect(res.Reason()).To(ContainSubstring("overallConfidence must be numeric"))
	})

	DescribeTable("requires all four fields to be arrays",
		func(body, field string) {
			res := extract(body)
			Expect(res.IsOk()).To(BeFalse())
			Expect(res.Reason()).To(ContainSubstring(field + " must be an array"))
		},
		Entry("missing risks", `{"clauses":[],"obligations":[],"suggestions":[]}`, "risks"),
		Entry("object obligations", `{"clauses":[],"risks":[],"obligations":{},"suggestions":[]}`, "obligations"),
		Entry("string suggestions", `{"clauses":[],"risks":[],"obligations":[],"suggestions":"none"}`, "suggestions"),
	)

	It("fails when the content is not cached", func() {
		input.DocumentID = "D2"
		res, err := extractor.Extract(ctx, input)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Reason()).To(Equal(analysis.ReasonContentNotFound))
	})

	Describe("prompt-size guard", func() {
		It("truncates content to 50,000 characters when the prompt would reach 150,000", func() {
			system := analysis.SystemPrompt(analysis.StageExtract)
			content := strings.Repeat("Z", 150_000-len(system))

			out := analysis.TruncateForPrompt(system, input, content)
			Expect(out).To(HaveLen(50_000))
		})

		It("leaves content alone under the limit", func() {
			content := strings.Repeat("Z", 20_000)
			Expect(analysis.TruncateForPrompt("sys", input, content)).To(Equal(content))
		})

		It("truncates on character boundaries", func() {
			content := strings.Repeat("é", 120_000)
			out := analysis.TruncateForPrompt("sys", input, content)
			Expect([]rune(out)).To(HaveLen(50_000))
		})

		It("dispatches the truncated content", func() {
			Expect(store.Set(ctx, cache.DocumentKey("D1"), strings.Repeat("Z", 150_000), cache.DocumentTTL)).To(Succeed())

			extract(`{"clauses":[],"risks":[],"obligations":[],"suggestions":[]}`)
			prompt := client.lastRequest().UserPrompt
			Expect(prompt).To(ContainSubstring(strings.Repeat("Z", 50_000)))
			Expect(prompt).NotTo(ContainSubstring(strings.Repeat("Z", 50_001)))
		})
	})
})
