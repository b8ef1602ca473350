package analysis

import (
	"slices"
	"strings"
)

// fieldAliases maps a folded key (lowercase, no '_', '-' or spaces) to its
// canonical camelCase name. Folding already covers camelCase vs snake_case;
// the entries below that differ from their folded canonical are synonyms
// models have been seen to use.
var fieldAliases = map[string]string{
	// shared
	"title":           "title",
	"name":            "title",
	"heading":         "title",
	"text":            "text",
	"content":         "text",
	"clausetext":      "text",
	"fulltext":        "text",
	"description":     "description",
	"details":         "description",
	"startindex":      "startIndex",
	"start":           "startIndex",
	"startoffset":     "startIndex",
	"startposition":   "startIndex",
	"endindex":        "endIndex",
	"end":             "endIndex",
	"endoffset":       "endIndex",
	"endposition":     "endIndex",
	"confidencescore": "confidenceScore",
	"confidence":      "confidenceScore",

	// validation
	"isvalidcontract": "isValidContract",
	"isvalid":         "isValidContract",
	"validcontract":   "isValidContract",
	"inscope":         "inScope",
	"contracttype":    "contractType",
	"reason":          "reason",
	"reasoning":       "reasoning",

	// structure
	"html":           "html",
	"tokens":         "tokens",
	"elementtype":    "elementType",
	"elementid":      "elementId",
	"metadata":       "metadata",
	"headingcount":   "headingCount",
	"paragraphcount": "paragraphCount",
	"listcount":      "listCount",
	"totaltokens":    "totalTokens",

	// summary
	"duration":             "duration",
	"term":                 "duration",
	"jurisdiction":         "jurisdiction",
	"governinglaw":         "jurisdiction",
	"effectivedate":        "effectiveDate",
	"rawsummary":           "rawSummary",
	"technicalsummary":     "rawSummary",
	"summary":              "summary",
	"plainenglishsummary":  "summary",
	"overview":             "overview",
	"overallriskscore":     "overallRiskScore",
	"riskscore":            "overallRiskScore",
	"partycount":           "partyCount",
	"numberofparties":      "partyCount",
	"hasterminationclause": "hasTerminationClause",

	// extraction
	"clauses":           "clauses",
	"keyclauses":        "clauses",
	"risks":             "risks",
	"obligations":       "obligations",
	"suggestions":       "suggestions",
	"recommendations":   "suggestions",
	"risklevel":         "riskLevel",
	"severity":          "riskLevel",
	"duedate":           "dueDate",
	"deadline":          "dueDate",
	"actionabletype":    "actionableType",
	"actiontype":        "actionableType",
	"obligationtype":    "actionableType",
	"sourceclause":      "sourceClause",
	"clause":            "sourceClause",
	"shouldabstain":     "shouldAbstain",
	"abstain":           "shouldAbstain",
	"explanation":       "explanation",
	"currenttext":       "currentText",
	"originaltext":      "currentText",
	"suggestedtext":     "suggestedText",
	"replacementtext":   "suggestedText",
	"proposedtext":      "suggestedText",
	"rationale":         "reasoning",
	"suggestiontype":    "suggestionType",
	"priority":          "priority",
	"overallconfidence": "overallConfidence",
}

func foldKey(k string) string {
	var sb strings.Builder
	sb.Grow(len(k))
	for _, r := range strings.ToLower(k) {
		switch r {
		case '_', '-', ' ':
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// canonicalKey returns the canonical name for k. Unknown keys are returned
// unchanged so nothing the model sent is silently dropped.
func canonicalKey(k string) string {
	if c, ok := fieldAliases[foldKey(k)]; ok {
		return c
	}
	return k
}

// normalizeKeys rewrites every object key in v, recursively, to its canonical
// name. When several keys land on the same name, a key already spelled
// canonically wins; otherwise the first alias in sorted order wins.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if canonicalKey(k) == k {
				out[k] = normalizeKeys(val)
			}
		}
		for _, k := range sortedKeys(t) {
			c := canonicalKey(k)
			if c == k {
				continue
			}
			if _, taken := out[c]; !taken {
				out[c] = normalizeKeys(t[k])
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeKeys(item)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
