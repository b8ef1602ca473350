package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"clausewise.app/analyzer/common/llm"
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/model"
)

var structureSchema = llm.GenerateSchema[model.StructuredContract]()

// Structurer renders the contract as indexed HTML.
type Structurer struct {
	caller *Caller
	cache  cache.Cache
}

func NewStructurer(caller *Caller, c cache.Cache) *Structurer {
	return &Structurer{caller: caller, cache: c}
}

func (s *Structurer) Structure(ctx context.Context, documentID string) (Result[model.StructuredContract], error) {
	content, ok, err := loadContent(ctx, s.cache, documentID)
	if err != nil {
		return Result[model.StructuredContract]{}, err
	}
	if !ok {
		return Fail[model.StructuredContract](ReasonContentNotFound), nil
	}

	var raw map[string]any
	err = s.caller.Call(ctx, StageStructure, llm.Request{
		UserPrompt: "## Contract text\n" + content,
		SchemaName: "structured_contract",
		Schema:     structureSchema,
	}, &raw)
	if err != nil {
		slog.WarnContext(ctx, "structure call failed", "error", err)
		return Fail[model.StructuredContract]("Contract structuring failed: " + err.Error()), nil
	}

	sc, reason := parseStructure(raw)
	if reason != "" {
		return Fail[model.StructuredContract](reason), nil
	}
	return Ok(sc), nil
}

// parseStructure coerces the model answer and checks that the declared
// counts agree with the token list.
func parseStructure(raw map[string]any) (model.StructuredContract, string) {
	normalized, _ := normalizeKeys(raw).(map[string]any)

	html := asString(normalized["html"])
	if html == "" {
		return model.StructuredContract{}, "Invalid structure response: html is empty"
	}

	rawTokens, ok := normalized["tokens"].([]any)
	if !ok {
		return model.StructuredContract{}, "Invalid structure response: tokens must be an array"
	}

	tokens := make([]model.TokenPosition, 0, len(rawTokens))
	counts := map[model.ElementType]int{}
	for i, item := range rawTokens {
		m, ok := item.(map[string]any)
		if !ok {
			return model.StructuredContract{}, fmt.Sprintf("Invalid structure response: token %d is not an object", i)
		}
		start, okStart := asInt(m["startIndex"])
		end, okEnd := asInt(m["endIndex"])
		if !okStart || !okEnd || start < 0 || end < start {
			return model.StructuredContract{}, fmt.Sprintf("Invalid structure response: token %d has invalid offsets", i)
		}
		et := model.ElementType(asString(m["elementType"]))
		if !et.IsValid() {
			return model.StructuredContract{}, fmt.Sprintf("Invalid structure response: token %d has unknown element type %q", i, et)
		}
		counts[et]++
		tokens = append(tokens, model.TokenPosition{
			Start:       start,
			End:         end,
			Text:        asString(m["text"]),
			ElementType: et,
			ElementID:   asString(m["elementId"]),
		})
	}

	metaRaw, ok := normalized["metadata"].(map[string]any)
	if !ok {
		return model.StructuredContract{}, "Invalid structure response: metadata is missing"
	}
	var meta model.StructureMetadata
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"headingCount", &meta.HeadingCount},
		{"paragraphCount", &meta.ParagraphCount},
		{"listCount", &meta.ListCount},
		{"totalTokens", &meta.TotalTokens},
	} {
		n, ok := asInt(metaRaw[f.key])
		if !ok {
			return model.StructuredContract{}, fmt.Sprintf("Invalid structure response: metadata.%s must be a number", f.key)
		}
		*f.dst = n
	}

	if reason := checkStructureCounts(meta, counts, len(tokens)); reason != "" {
		return model.StructuredContract{}, reason
	}

	return model.StructuredContract{HTML: html, Tokens: tokens, Metadata: meta}, ""
}

func checkStructureCounts(meta model.StructureMetadata, counts map[model.ElementType]int, total int) string {
	mismatch := func(field string, declared, actual int) string {
		return fmt.Sprintf("Structure validation failed: %s is %d but tokens contain %d", field, declared, actual)
	}
	switch {
	case meta.HeadingCount != counts[model.ElementTypeHeading]:
		return mismatch("headingCount", meta.HeadingCount, counts[model.ElementTypeHeading])
	case meta.ParagraphCount != counts[model.ElementTypeParagraph]:
		return mismatch("paragraphCount", meta.ParagraphCount, counts[model.ElementTypeParagraph])
	case meta.ListCount != counts[model.ElementTypeList]:
		return mismatch("listCount", meta.ListCount, counts[model.ElementTypeList])
	case meta.TotalTokens != total:
		return mismatch("totalTokens", meta.TotalTokens, total)
	}
	return ""
}
