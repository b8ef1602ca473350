package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"clausewise.app/analyzer/common/llm"
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/model"
)

// Prompt-size guard for extraction: past maxExtractionPrompt characters of
// instructions plus content, the content is cut to truncatedContentLength.
const (
	maxExtractionPrompt    = 100_000
	truncatedContentLength = 50_000
)

var (
	riskLevels = map[string]model.RiskLevel{
		"HIGH":   model.RiskLevelHigh,
		"MEDIUM": model.RiskLevelMedium,
		"LOW":    model.RiskLevelLow,
	}
	priorities = map[string]model.Priority{
		"HIGH":   model.PriorityHigh,
		"MEDIUM": model.PriorityMedium,
		"LOW":    model.PriorityLow,
	}
	actionableTypes = map[string]model.ActionableType{
		"PAYMENT":         model.ActionableTypePayment,
		"DELIVERY":        model.ActionableTypeDelivery,
		"REPORTING":       model.ActionableTypeReporting,
		"COMPLIANCE":      model.ActionableTypeCompliance,
		"CONFIDENTIALITY": model.ActionableTypeConfidentiality,
		"NOTICE":          model.ActionableTypeNotice,
		"RENEWAL":         model.ActionableTypeRenewal,
		"TERMINATION":     model.ActionableTypeTermination,
		"OTHER":           model.ActionableTypeOther,
	}
	suggestionTypes = map[string]model.SuggestionType{
		"RISK_MITIGATION":     model.SuggestionTypeRiskMitigation,
		"CLARITY":             model.SuggestionTypeClarity,
		"COMPLIANCE":          model.SuggestionTypeCompliance,
		"FAIRNESS":            model.SuggestionTypeFairness,
		"MISSING_CLAUSE":      model.SuggestionTypeMissingClause,
		"GENERAL_IMPROVEMENT": model.SuggestionTypeGeneralImprovement,
	}
)

// Extractor pulls clauses, risks, obligations and suggestions out of a
// structured contract.
type Extractor struct {
	caller *Caller
	cache  cache.Cache
	now    func() time.Time
}

func NewExtractor(caller *Caller, c cache.Cache) *Extractor {
	return &Extractor{caller: caller, cache: c, now: time.Now}
}

func (e *Extractor) Extract(ctx context.Context, in StageInput) (Result[model.ExtractionDetails], error) {
	start := e.now()

	content, ok, err := loadContent(ctx, e.cache, in.DocumentID)
	if err != nil {
		return Result[model.ExtractionDetails]{}, err
	}
	if !ok {
		return Fail[model.ExtractionDetails](ReasonContentNotFound), nil
	}

	var raw map[string]any
	err = e.caller.Call(ctx, StageExtract, llm.Request{
		UserPrompt: buildExtractionPrompt(ctx, in, content),
	}, &raw)
	if err != nil {
		slog.WarnContext(ctx, "extraction call failed", "error", err)
		return Fail[model.ExtractionDetails]("Detail extraction failed: " + err.Error()), nil
	}

	details, reason := parseExtraction(ctx, raw)
	if reason != "" {
		return Fail[model.ExtractionDetails](reason), nil
	}
	details.Metadata.ProcessingTimeMs = e.now().Sub(start).Milliseconds()

	return Ok(details), nil
}

func buildExtractionPrompt(ctx context.Context, in StageInput, content string) string {
	return buildStagePrompt(in, truncateForPrompt(ctx, prompts[StageExtract].System, in, content))
}

// truncateForPrompt applies the extraction prompt-size guard. Instructions
// are the system prompt plus every non-content part of the user prompt.
func truncateForPrompt(ctx context.Context, system string, in StageInput, content string) string {
	instructions := utf8.RuneCountInString(system) + utf8.RuneCountInString(buildStagePrompt(in, ""))
	contentLen := utf8.RuneCountInString(content)
	if instructions+contentLen <= maxExtractionPrompt {
		return content
	}

	slog.WarnContext(ctx, "extraction prompt too large, truncating content",
		"prompt_chars", instructions+contentLen,
		"content_chars", contentLen,
		"truncated_to", truncatedContentLength)

	return truncateRunes(content, truncatedContentLength)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func parseExtraction(ctx context.Context, raw map[string]any) (model.ExtractionDetails, string) {
	m, _ := normalizeKeys(raw).(map[string]any)

	arrays := make(map[string][]map[string]any, 4)
	for _, field := range []string{"clauses", "risks", "obligations", "suggestions"} {
		items, ok := m[field].([]any)
		if !ok {
			return model.ExtractionDetails{}, fmt.Sprintf("Invalid extraction response: %s must be an array", field)
		}
		objs := make([]map[string]any, 0, len(items))
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				slog.WarnContext(ctx, "skipping non-object extraction item", "field", field, "index", i)
				continue
			}
			objs = append(objs, obj)
		}
		arrays[field] = objs
	}

	d := model.ExtractionDetails{
		Clauses:     make([]model.Clause, 0, len(arrays["clauses"])),
		Risks:       make([]model.Risk, 0, len(arrays["risks"])),
		Obligations: make([]model.Obligation, 0, len(arrays["obligations"])),
		Suggestions: make([]model.Suggestion, 0, len(arrays["suggestions"])),
	}

	var confidenceSum, confidenceCount int
	track := func(c int) int {
		confidenceSum += c
		confidenceCount++
		return c
	}

	for _, c := range arrays["clauses"] {
		d.Clauses = append(d.Clauses, model.Clause{
			Title:           asString(c["title"]),
			Text:            asString(c["text"]),
			StartIndex:      asOffset(c["startIndex"]),
			EndIndex:        asOffset(c["endIndex"]),
			ConfidenceScore: track(asConfidence(c["confidenceScore"])),
		})
	}

	for _, r := range arrays["risks"] {
		level, ok := riskLevels[enumKey(asString(r["riskLevel"]))]
		if !ok {
			level = model.RiskLevelMedium
		}
		d.Risks = append(d.Risks, model.Risk{
			Title:           asString(r["title"]),
			Description:     asString(r["description"]),
			RiskLevel:       level,
			StartIndex:      asOffset(r["startIndex"]),
			EndIndex:        asOffset(r["endIndex"]),
			ConfidenceScore: track(asConfidence(r["confidenceScore"])),
		})
	}

	for _, o := range arrays["obligations"] {
		at, ok := actionableTypes[enumKey(asString(o["actionableType"]))]
		if !ok {
			at = model.ActionableTypeOther
		}
		d.Obligations = append(d.Obligations, model.Obligation{
			Title:           asString(o["title"]),
			Description:     asString(o["description"]),
			DueDate:         asOptionalString(o["dueDate"]),
			StartIndex:      asOffset(o["startIndex"]),
			EndIndex:        asOffset(o["endIndex"]),
			ActionableType:  at,
			SourceClause:    asString(o["sourceClause"]),
			ShouldAbstain:   asBool(o["shouldAbstain"]),
			ConfidenceScore: track(asConfidence(o["confidenceScore"])),
			Explanation:     asString(o["explanation"]),
		})
	}

	for _, s := range arrays["suggestions"] {
		st, ok := suggestionTypes[enumKey(asString(s["suggestionType"]))]
		if !ok {
			st = model.SuggestionTypeGeneralImprovement
		}
		p, ok := priorities[enumKey(asString(s["priority"]))]
		if !ok {
			p = model.PriorityMedium
		}
		d.Suggestions = append(d.Suggestions, model.Suggestion{
			Title:           asString(s["title"]),
			CurrentText:     asString(s["currentText"]),
			SuggestedText:   asString(s["suggestedText"]),
			Reasoning:       asString(s["reasoning"]),
			SuggestionType:  st,
			Priority:        p,
			StartIndex:      asOffset(s["startIndex"]),
			EndIndex:        asOffset(s["endIndex"]),
			ConfidenceScore: track(asConfidence(s["confidenceScore"])),
		})
	}

	d.Metadata = model.ExtractionMetadata{
		TotalClauses:     len(d.Clauses),
		TotalRisks:       len(d.Risks),
		TotalObligations: len(d.Obligations),
		TotalSuggestions: len(d.Suggestions),
	}

	supplied, present := overallConfidence(m)
	switch {
	case present:
		n, ok := supplied.(float64)
		if !ok {
			return model.ExtractionDetails{}, "Invalid extraction response: metadata.overallConfidence must be numeric"
		}
		d.Metadata.OverallConfidence = n
	case confidenceCount > 0:
		d.Metadata.OverallConfidence = float64(confidenceSum) / float64(confidenceCount)
	}

	return d, ""
}

// overallConfidence finds a model-supplied overall confidence, either under
// metadata or at the top level. A JSON null counts as not supplied.
func overallConfidence(m map[string]any) (any, bool) {
	if meta, ok := m["metadata"].(map[string]any); ok {
		if v, ok := meta["overallConfidence"]; ok && v != nil {
			return v, true
		}
	}
	if v, ok := m["overallConfidence"]; ok && v != nil {
		return v, true
	}
	return nil, false
}
