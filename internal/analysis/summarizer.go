package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"clausewise.app/analyzer/common/llm"
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/model"
)

const (
	minRawSummaryLength = 50
	minSummaryLength    = 100
	minOverviewLength   = 20
)

var summarySchema = llm.GenerateSchema[model.Summary]()

// Summarizer writes the technical and plain-English summaries.
type Summarizer struct {
	caller *Caller
	cache  cache.Cache
}

func NewSummarizer(caller *Caller, c cache.Cache) *Summarizer {
	return &Summarizer{caller: caller, cache: c}
}

func (s *Summarizer) Summarize(ctx context.Context, in StageInput) (Result[model.Summary], error) {
	content, ok, err := loadContent(ctx, s.cache, in.DocumentID)
	if err != nil {
		return Result[model.Summary]{}, err
	}
	if !ok {
		return Fail[model.Summary](ReasonContentNotFound), nil
	}

	var raw map[string]any
	err = s.caller.Call(ctx, StageSummarize, llm.Request{
		UserPrompt: buildStagePrompt(in, content),
		SchemaName: "contract_summary",
		Schema:     summarySchema,
	}, &raw)
	if err != nil {
		slog.WarnContext(ctx, "summary call failed", "error", err)
		return Fail[model.Summary]("Contract summarization failed: " + err.Error()), nil
	}

	summary, reason := parseSummary(raw)
	if reason != "" {
		return Fail[model.Summary](reason), nil
	}
	return Ok(summary), nil
}

func parseSummary(raw map[string]any) (model.Summary, string) {
	m, _ := normalizeKeys(raw).(map[string]any)
	invalid := func(format string, args ...any) (model.Summary, string) {
		return model.Summary{}, "Invalid summary: " + fmt.Sprintf(format, args...)
	}

	s := model.Summary{
		Duration:             asString(m["duration"]),
		Jurisdiction:         asString(m["jurisdiction"]),
		EffectiveDate:        asString(m["effectiveDate"]),
		RawSummary:           asString(m["rawSummary"]),
		Summary:              asString(m["summary"]),
		Overview:             asString(m["overview"]),
		HasTerminationClause: asBool(m["hasTerminationClause"]),
	}

	for _, f := range []struct{ name, value string }{
		{"duration", s.Duration},
		{"jurisdiction", s.Jurisdiction},
		{"effectiveDate", s.EffectiveDate},
	} {
		if f.value == "" {
			return invalid("%s is required", f.name)
		}
	}

	rawLen := utf8.RuneCountInString(s.RawSummary)
	sumLen := utf8.RuneCountInString(s.Summary)
	switch {
	case rawLen < minRawSummaryLength:
		return invalid("rawSummary must be at least %d characters", minRawSummaryLength)
	case sumLen < minSummaryLength:
		return invalid("summary must be at least %d characters", minSummaryLength)
	case sumLen <= rawLen:
		return invalid("summary must be longer than rawSummary")
	case utf8.RuneCountInString(s.Overview) < minOverviewLength:
		return invalid("overview must be at least %d characters", minOverviewLength)
	}

	var ok bool
	if s.OverallRiskScore, ok = asInt(m["overallRiskScore"]); !ok || s.OverallRiskScore < 1 || s.OverallRiskScore > 100 {
		return invalid("overallRiskScore must be between 1 and 100")
	}
	if s.ConfidenceScore, ok = asInt(m["confidenceScore"]); !ok || s.ConfidenceScore < 1 || s.ConfidenceScore > 100 {
		return invalid("confidenceScore must be between 1 and 100")
	}
	if s.PartyCount, ok = asInt(m["partyCount"]); !ok || s.PartyCount < 1 {
		return invalid("partyCount must be at least 1")
	}

	return s, ""
}
