package model

import "time"

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "PENDING"
	DocumentStatusProcessing DocumentStatus = "PROCESSING"
	DocumentStatusCompleted  DocumentStatus = "COMPLETED"
	DocumentStatusFailed     DocumentStatus = "FAILED"
)

func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusProcessing, DocumentStatusCompleted, DocumentStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the pipeline run for a document has ended.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusCompleted || s == DocumentStatusFailed
}

// Document is a contract under analysis. It is created by the submission
// service and afterwards only mutated by the pipeline worker, one stage's
// fields at a time.
type Document struct {
	ID                 string              `json:"id"`
	UserID             string              `json:"userId"`
	Title              string              `json:"title"`
	Status             DocumentStatus      `json:"status"`
	FailureReason      string              `json:"failureReason"`
	JobID              *string             `json:"jobId,omitempty"`
	ValidationMetadata *ValidationMetadata `json:"validationMetadata,omitempty"`
	StructuredContract *StructuredContract `json:"structuredContract,omitempty"`
	Summary            *Summary            `json:"summary,omitempty"`
	Clauses            []Clause            `json:"clauses"`
	Risks              []Risk              `json:"risks"`
	Obligations        []Obligation        `json:"obligations"`
	Suggestions        []Suggestion        `json:"suggestions"`
	ExtractionMetadata *ExtractionMetadata `json:"extractionMetadata,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

type ContractType string

const (
	ContractTypeNDA     ContractType = "NDA"
	ContractTypeICA     ContractType = "ICA"
	ContractTypeLicense ContractType = "License Agreement"
	ContractTypeOther   ContractType = "Other"
)

// IsSupported reports whether the pipeline analyzes this contract type.
// "Other" is a valid classification but not a supported one.
func (t ContractType) IsSupported() bool {
	switch t {
	case ContractTypeNDA, ContractTypeICA, ContractTypeLicense:
		return true
	}
	return false
}

type ValidationMetadata struct {
	IsValidContract bool         `json:"isValidContract"`
	ContractType    ContractType `json:"contractType"`
	InScope         bool         `json:"inScope"`
	ConfidenceScore int          `json:"confidenceScore"`
	Reason          string       `json:"reason"`
}

type ElementType string

const (
	ElementTypeHeading   ElementType = "heading"
	ElementTypeParagraph ElementType = "paragraph"
	ElementTypeList      ElementType = "list"
)

func (t ElementType) IsValid() bool {
	switch t {
	case ElementTypeHeading, ElementTypeParagraph, ElementTypeList:
		return true
	}
	return false
}

// TokenPosition marks one structural element of the rendered HTML against
// character offsets in the raw text.
type TokenPosition struct {
	Start       int         `json:"start"`
	End         int         `json:"end"`
	Text        string      `json:"text"`
	ElementType ElementType `json:"elementType"`
	ElementID   string      `json:"elementId"`
}

type StructureMetadata struct {
	HeadingCount   int `json:"headingCount"`
	ParagraphCount int `json:"paragraphCount"`
	ListCount      int `json:"listCount"`
	TotalTokens    int `json:"totalTokens"`
}

type StructuredContract struct {
	HTML     string            `json:"html"`
	Tokens   []TokenPosition   `json:"tokens"`
	Metadata StructureMetadata `json:"metadata"`
}

type Summary struct {
	Duration             string `json:"duration"`
	Jurisdiction         string `json:"jurisdiction"`
	EffectiveDate        string `json:"effectiveDate"`
	RawSummary           string `json:"rawSummary"`
	Summary              string `json:"summary"`
	Overview             string `json:"overview"`
	OverallRiskScore     int    `json:"overallRiskScore"`
	ConfidenceScore      int    `json:"confidenceScore"`
	PartyCount           int    `json:"partyCount"`
	HasTerminationClause bool   `json:"hasTerminationClause"`
}

type Clause struct {
	Title           string `json:"title"`
	Text            string `json:"text"`
	StartIndex      int    `json:"startIndex"`
	EndIndex        int    `json:"endIndex"`
	ConfidenceScore int    `json:"confidenceScore"`
}

type RiskLevel string

const (
	RiskLevelHigh   RiskLevel = "High"
	RiskLevelMedium RiskLevel = "Medium"
	RiskLevelLow    RiskLevel = "Low"
)

type Risk struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	StartIndex      int       `json:"startIndex"`
	EndIndex        int       `json:"endIndex"`
	ConfidenceScore int       `json:"confidenceScore"`
}

type ActionableType string

const (
	ActionableTypePayment         ActionableType = "PAYMENT"
	ActionableTypeDelivery        ActionableType = "DELIVERY"
	ActionableTypeReporting       ActionableType = "REPORTING"
	ActionableTypeCompliance      ActionableType = "COMPLIANCE"
	ActionableTypeConfidentiality ActionableType = "CONFIDENTIALITY"
	ActionableTypeNotice          ActionableType = "NOTICE"
	ActionableTypeRenewal         ActionableType = "RENEWAL"
	ActionableTypeTermination     ActionableType = "TERMINATION"
	ActionableTypeOther           ActionableType = "OTHER"
)

type Obligation struct {
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	DueDate         *string        `json:"dueDate,omitempty"`
	StartIndex      int            `json:"startIndex"`
	EndIndex        int            `json:"endIndex"`
	ActionableType  ActionableType `json:"actionableType"`
	SourceClause    string         `json:"sourceClause"`
	ShouldAbstain   bool           `json:"shouldAbstain"`
	ConfidenceScore int            `json:"confidenceScore"`
	Explanation     string         `json:"explanation"`
}

type SuggestionType string

const (
	SuggestionTypeRiskMitigation     SuggestionType = "RISK_MITIGATION"
	SuggestionTypeClarity            SuggestionType = "CLARITY"
	SuggestionTypeCompliance         SuggestionType = "COMPLIANCE"
	SuggestionTypeFairness           SuggestionType = "FAIRNESS"
	SuggestionTypeMissingClause      SuggestionType = "MISSING_CLAUSE"
	SuggestionTypeGeneralImprovement SuggestionType = "GENERAL_IMPROVEMENT"
)

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

type Suggestion struct {
	Title           string         `json:"title"`
	CurrentText     string         `json:"currentText"`
	SuggestedText   string         `json:"suggestedText"`
	Reasoning       string         `json:"reasoning"`
	SuggestionType  SuggestionType `json:"suggestionType"`
	Priority        Priority       `json:"priority"`
	StartIndex      int            `json:"startIndex"`
	EndIndex        int            `json:"endIndex"`
	ConfidenceScore int            `json:"confidenceScore"`
}

type ExtractionMetadata struct {
	TotalClauses      int     `json:"totalClauses"`
	TotalRisks        int     `json:"totalRisks"`
	TotalObligations  int     `json:"totalObligations"`
	TotalSuggestions  int     `json:"totalSuggestions"`
	ProcessingTimeMs  int64   `json:"processingTimeMs"`
	OverallConfidence float64 `json:"overallConfidence"`
}

// ExtractionDetails is the stage-4 output as a single value.
type ExtractionDetails struct {
	Clauses     []Clause           `json:"clauses"`
	Risks       []Risk             `json:"risks"`
	Obligations []Obligation       `json:"obligations"`
	Suggestions []Suggestion       `json:"suggestions"`
	Metadata    ExtractionMetadata `json:"metadata"`
}
