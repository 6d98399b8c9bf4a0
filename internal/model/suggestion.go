package model

import "time"

// RuleTemplate is the embedded rule of a suggestion; it is not persisted
// until the suggestion is accepted.
type RuleTemplate struct {
	Name       string         `json:"name"`
	Priority   int            `json:"priority"`
	Conditions RuleConditions `json:"conditions"`
	Action     RuleAction     `json:"action"`
}

// RuleSuggestion is a one-shot rule template generated after a user
// correction. At most one suggestion is emitted per correction.
type RuleSuggestion struct {
	ID      string       `json:"id"`
	Message string       `json:"message"`
	Rule    RuleTemplate `json:"rule"`
}

// DismissedSuggestion suppresses regeneration of a specific suggestion for
// a (merchant, category) pair.
type DismissedSuggestion struct {
	ID                 string    `json:"id"`
	OwnerID            string    `json:"ownerId"`
	MerchantNormalized string    `json:"merchantNormalized"`
	CategoryID         string    `json:"categoryId"`
	DismissedAt        time.Time `json:"dismissedAt"`
}
