package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"clausewise.app/analyzer/common/llm"
	"clausewise.app/analyzer/internal/cache"
	"clausewise.app/analyzer/internal/model"
)

// MaxValidationLength is the largest document, in characters, the validator
// will send for classification.
const MaxValidationLength = 70_000

type validationResponse struct {
	IsValidContract bool   `json:"isValidContract" jsonschema_description:"True only when the text is a legal contract"`
	InScope         bool   `json:"inScope" jsonschema_description:"True when contractType is a supported type"`
	ContractType    string `json:"contractType" jsonschema:"enum=NDA,enum=ICA,enum=License Agreement,enum=Other"`
	ConfidenceScore int    `json:"confidenceScore" jsonschema:"minimum=1,maximum=100"`
	Reason          string `json:"reason" jsonschema_description:"One sentence explaining the verdict"`
}

var (
	validationSchema    = llm.GenerateSchema[validationResponse]()
	validationValidator = llm.NewValidator("validation", schemaMap(validationSchema))
)

// Validator classifies a document and rejects anything that is not a
// supported contract.
type Validator struct {
	caller *Caller
	cache  cache.Cache
}

func NewValidator(caller *Caller, c cache.Cache) *Validator {
	return &Validator{caller: caller, cache: c}
}

func (v *Validator) Validate(ctx context.Context, documentID string) (Result[model.ValidationMetadata], error) {
	content, ok, err := loadContent(ctx, v.cache, documentID)
	if err != nil {
		return Result[model.ValidationMetadata]{}, err
	}
	if !ok {
		return Fail[model.ValidationMetadata](ReasonContentNotFound), nil
	}

	if n := utf8.RuneCountInString(content); n > MaxValidationLength {
		return Fail[model.ValidationMetadata](fmt.Sprintf(
			"Document is too long to analyze (%d characters, maximum %d)", n, MaxValidationLength)), nil
	}

	var raw map[string]any
	err = v.caller.Call(ctx, StageValidate, llm.Request{
		UserPrompt: "## Document\n" + content,
		SchemaName: "contract_validation",
		Schema:     validationSchema,
	}, &raw)
	if err != nil {
		slog.WarnContext(ctx, "validation call failed", "error", err)
		return Fail[model.ValidationMetadata]("Contract validation failed: " + err.Error()), nil
	}

	resp, reason := parseValidation(raw)
	if reason != "" {
		return Fail[model.ValidationMetadata](reason), nil
	}

	meta := model.ValidationMetadata{
		IsValidContract: resp.IsValidContract,
		ContractType:    model.ContractType(resp.ContractType),
		InScope:         resp.InScope,
		ConfidenceScore: resp.ConfidenceScore,
		Reason:          resp.Reason,
	}

	if !meta.IsValidContract {
		return Fail[model.ValidationMetadata](reasonOr(meta.Reason, "Document is not a valid contract")), nil
	}
	if !meta.ContractType.IsSupported() {
		return Fail[model.ValidationMetadata](reasonOr(meta.Reason, "Unsupported contract type: "+string(meta.ContractType))), nil
	}

	return Ok(meta), nil
}

// parseValidation checks the decoded answer against the response schema and
// returns either the typed response or a failure reason.
func parseValidation(raw map[string]any) (validationResponse, string) {
	normalized, _ := normalizeKeys(raw).(map[string]any)
	if normalized == nil {
		return validationResponse{}, "Invalid validation response: empty output"
	}
	if err := validationValidator.Validate(normalized); err != nil {
		return validationResponse{}, "Invalid validation response: " + err.Error()
	}

	b, err := json.Marshal(normalized)
	if err != nil {
		return validationResponse{}, "Invalid validation response: " + err.Error()
	}
	var resp validationResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return validationResponse{}, "Invalid validation response: " + err.Error()
	}
	return resp, ""
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
