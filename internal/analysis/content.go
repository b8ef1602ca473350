package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/model"
)

// ReasonContentNotFound is the failure reason when a document's raw text is
// no longer cached.
const ReasonContentNotFound = "Document content not found"

// loadContent reads the cached raw text. ok=false means the entry is gone;
// err is reserved for cache transport failures.
func loadContent(ctx context.Context, c cache.Cache, documentID string) (content string, ok bool, err error) {
	content, found, err := c.Get(ctx, cache.DocumentKey(documentID))
	if err != nil {
		return "", false, fmt.Errorf("load content for %s: %w", documentID, err)
	}
	if !found || strings.TrimSpace(content) == "" {
		return "", false, nil
	}
	return content, true, nil
}

// StageInput is what the summarizer and extractor work from once the
// document has been validated and structured.
type StageInput struct {
	DocumentID   string
	ContractType model.ContractType
	HTML         string
	Profile      *model.UserProfile
}

func writeProfile(sb *strings.Builder, p *model.UserProfile) {
	if p == nil || (p.Name == "" && p.Profession == "" && len(p.Specialities) == 0) {
		return
	}
	sb.WriteString("## Reader\n")
	if p.Name != "" {
		fmt.Fprintf(sb, "Name: %s\n", p.Name)
	}
	if p.Profession != "" {
		fmt.Fprintf(sb, "Profession: %s\n", p.Profession)
	}
	if len(p.Specialities) > 0 {
		fmt.Fprintf(sb, "Specialities: %s\n", strings.Join(p.Specialities, ", "))
	}
	sb.WriteString("Address the analysis to this reader and emphasise what matters for their work.\n\n")
}

func buildStagePrompt(in StageInput, content string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Contract type\n%s\n\n", in.ContractType)
	writeProfile(&sb, in.Profile)
	if in.HTML != "" {
		sb.WriteString("## Structured HTML\n")
		sb.WriteString(in.HTML)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Contract text\n")
	sb.WriteString(content)
	return sb.String()
}

// schemaMap converts a reflected schema into the plain map form used for
// validating decoded output. Identity keys are dropped so the schema compiles
// standalone, and extra properties are tolerated.
func schemaMap(schema any) map[string]any {
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("analysis: marshal schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(fmt.Sprintf("analysis: unmarshal schema: %v", err))
	}
	delete(m, "$id")
	delete(m, "$schema")
	delete(m, "additionalProperties")
	return m
}
