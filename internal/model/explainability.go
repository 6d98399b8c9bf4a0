// Package model defines the core domain entities for ledgerhound.
package model

import "time"

// CategorizationReason records why a category was chosen.
type CategorizationReason string

// Categorization reason constants.
const (
	ReasonRuleMatch CategorizationReason = "rule_match"
	ReasonLLM       CategorizationReason = "llm"
	ReasonManual    CategorizationReason = "manual"
	ReasonNoMatch   CategorizationReason = "no_match"
	ReasonDefault   CategorizationReason = "default"
	ReasonSplit     CategorizationReason = "split"
)

// MatchType identifies which textual condition of a rule produced a match.
type MatchType string

// Match type constants, in evaluation order.
const (
	MatchExact       MatchType = "exact"
	MatchContains    MatchType = "contains"
	MatchRegex       MatchType = "regex"
	MatchDescription MatchType = "description"
)

// Explainability is the audit payload carried by every transaction. A
// transaction has exactly one current Explainability; the historical one
// lives inside AutoCategory.
type Explainability struct {
	Reason         CategorizationReason `json:"reason"`
	RuleID         *string              `json:"ruleId,omitempty"`
	RuleName       *string              `json:"ruleName,omitempty"`
	MatchType      *MatchType           `json:"matchType,omitempty"`
	MatchedValue   *string              `json:"matchedValue,omitempty"`
	MatchedPattern *string              `json:"matchedPattern,omitempty"`
	Confidence     float64              `json:"confidence"`
	Timestamp      time.Time            `json:"timestamp"`
	LLMModel       *string              `json:"llmModel,omitempty"`
	LLMReasoning   *string              `json:"llmReasoning,omitempty"`
}
