package model

import "time"

// Rule priority and quota bounds.
const (
	MinRulePriority           = 1
	MaxRulePriority           = 1000
	DefaultUserPriority       = 500
	DefaultSuggestionPriority = 300
	MaxRulesPerOwner          = 100
)

// RuleSource records how a rule came to exist.
type RuleSource string

// Rule source constants.
const (
	RuleSourceUser       RuleSource = "user"
	RuleSourceSuggestion RuleSource = "suggestion"
	RuleSourceSystem     RuleSource = "system"
)

// RuleConditions is a bag of optional predicates. At least one must be set
// for a rule to be valid; the numeric and account gates never match alone.
type RuleConditions struct {
	AccountID           *string `json:"accountId,omitempty"`
	AmountMin           *int64  `json:"amountMin,omitempty"`
	AmountMax           *int64  `json:"amountMax,omitempty"`
	MerchantExact       *string `json:"merchantExact,omitempty"`
	MerchantContains    *string `json:"merchantContains,omitempty"`
	MerchantRegex       *string `json:"merchantRegex,omitempty"`
	DescriptionContains *string `json:"descriptionContains,omitempty"`
}

// HasAny reports whether any predicate is set.
func (c RuleConditions) HasAny() bool {
	return c.AccountID != nil ||
		c.AmountMin != nil ||
		c.AmountMax != nil ||
		c.MerchantExact != nil ||
		c.MerchantContains != nil ||
		c.MerchantRegex != nil ||
		c.DescriptionContains != nil
}

// RuleAction is what a matching rule applies to a transaction.
type RuleAction struct {
	CategoryID string   `json:"categoryId"`
	AddTags    []string `json:"addTags,omitempty"`
}

// Rule is a user categorization rule. MatchCount and LastMatchedAt are
// advanced best-effort by the orchestrator and may lag.
type Rule struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"ownerId"`
	Name          string         `json:"name"`
	Enabled       bool           `json:"enabled"`
	Priority      int            `json:"priority"`
	Conditions    RuleConditions `json:"conditions"`
	Action        RuleAction     `json:"action"`
	Source        RuleSource     `json:"source"`
	MatchCount    int            `json:"matchCount"`
	LastMatchedAt *time.Time     `json:"lastMatchedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// ClampPriority forces a priority into the valid range.
func ClampPriority(p int) int {
	if p < MinRulePriority {
		return MinRulePriority
	}
	if p > MaxRulePriority {
		return MaxRulePriority
	}
	return p
}
