package analysis

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Stage names, also used as span, metric and log labels.
const (
	StageValidate  = "validate"
	StageStructure = "structure"
	StageSummarize = "summarize"
	StageExtract   = "extract"
)

//go:embed prompts.yaml
var promptsYAML []byte

type stagePrompt struct {
	Version     string  `yaml:"version"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	System      string  `yaml:"system"`
}

var prompts = mustLoadPrompts(promptsYAML)

func mustLoadPrompts(data []byte) map[string]stagePrompt {
	var out map[string]stagePrompt
	if err := yaml.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("analysis: parse prompts: %v", err))
	}
	for _, stage := range []string{StageValidate, StageStructure, StageSummarize, StageExtract} {
		p, ok := out[stage]
		if !ok || p.System == "" {
			panic(fmt.Sprintf("analysis: missing prompt for stage %q", stage))
		}
	}
	return out
}

// PromptVersion reports the embedded prompt version for a stage.
func PromptVersion(stage string) string {
	return prompts[stage].Version
}
