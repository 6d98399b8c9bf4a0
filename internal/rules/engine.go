// Package rules implements deterministic rule evaluation and the rule
// lifecycle: creation, reordering, suggestions, and dismissals.
package rules

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
)

// Match confidences by condition kind. The kind that produced the match
// determines the confidence, not the rule.
const (
	ConfidenceExact       = 1.0
	ConfidenceContains    = 0.8
	ConfidenceRegex       = 0.6
	ConfidenceDescription = 0.5
)

// Match is the outcome of a successful rule evaluation.
type Match struct {
	Rule           *model.Rule
	CategoryID     string
	AddTags        []string
	Explainability model.Explainability
}

// SortRules orders rules for evaluation: priority descending, then creation
// time, then id. Equal-priority rules keep a stable order across runs.
func SortRules(rules []model.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

// Evaluate runs the owner's rules against a transaction and returns the
// first match in priority order, or nil when nothing matches. Disabled
// rules are skipped; a rule whose regex fails to compile is skipped with a
// warning rather than aborting the evaluation.
func Evaluate(txn *model.Transaction, rules []model.Rule) *Match {
	SortRules(rules)

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		matchType, value, pattern, ok := evaluateRule(txn, rule)
		if !ok {
			continue
		}

		ruleID := rule.ID
		ruleName := rule.Name
		mt := matchType
		m := &Match{
			Rule:       rule,
			CategoryID: rule.Action.CategoryID,
			AddTags:    rule.Action.AddTags,
			Explainability: model.Explainability{
				Reason:     model.ReasonRuleMatch,
				RuleID:     &ruleID,
				RuleName:   &ruleName,
				MatchType:  &mt,
				Confidence: confidenceFor(matchType),
				Timestamp:  time.Now().UTC(),
			},
		}
		if value != "" {
			v := value
			m.Explainability.MatchedValue = &v
		}
		if pattern != "" {
			p := pattern
			m.Explainability.MatchedPattern = &p
		}
		return m
	}
	return nil
}

// evaluateRule checks all set conditions of one rule against a transaction.
// Every set condition must hold. The textual condition that matched decides
// the match type; the account and amount gates never match on their own.
func evaluateRule(txn *model.Transaction, rule *model.Rule) (model.MatchType, string, string, bool) {
	c := rule.Conditions

	if c.AccountID != nil && *c.AccountID != txn.AccountID {
		return "", "", "", false
	}
	if c.AmountMin != nil && txn.Amount < *c.AmountMin {
		return "", "", "", false
	}
	if c.AmountMax != nil && txn.Amount > *c.AmountMax {
		return "", "", "", false
	}

	merchant := strings.ToUpper(txn.MerchantNormalized)
	description := txn.Description

	var matchType model.MatchType
	var matchedValue, matchedPattern string

	if c.MerchantExact != nil {
		if !strings.EqualFold(*c.MerchantExact, txn.MerchantNormalized) {
			return "", "", "", false
		}
		matchType, matchedValue, matchedPattern = model.MatchExact, txn.MerchantNormalized, *c.MerchantExact
	}
	if c.MerchantContains != nil {
		if !strings.Contains(merchant, strings.ToUpper(*c.MerchantContains)) {
			return "", "", "", false
		}
		if matchType == "" {
			matchType, matchedValue, matchedPattern = model.MatchContains, txn.MerchantNormalized, *c.MerchantContains
		}
	}
	if c.MerchantRegex != nil {
		ok, err := common.MatchRegex(*c.MerchantRegex, txn.MerchantNormalized)
		if err != nil {
			slog.Warn("Skipping rule with invalid regex",
				"ruleId", rule.ID, "error", err)
			return "", "", "", false
		}
		if !ok {
			return "", "", "", false
		}
		if matchType == "" {
			matchType, matchedValue, matchedPattern = model.MatchRegex, txn.MerchantNormalized, *c.MerchantRegex
		}
	}
	if c.DescriptionContains != nil {
		if !strings.Contains(strings.ToUpper(description), strings.ToUpper(*c.DescriptionContains)) {
			return "", "", "", false
		}
		if matchType == "" {
			matchType, matchedValue, matchedPattern = model.MatchDescription, description, *c.DescriptionContains
		}
	}

	if matchType == "" {
		// Only gates were set; gates alone never categorize.
		return "", "", "", false
	}
	return matchType, matchedValue, matchedPattern, true
}

func confidenceFor(mt model.MatchType) float64 {
	switch mt {
	case model.MatchExact:
		return ConfidenceExact
	case model.MatchContains:
		return ConfidenceContains
	case model.MatchRegex:
		return ConfidenceRegex
	case model.MatchDescription:
		return ConfidenceDescription
	default:
		return 0
	}
}
