// Package engine implements the categorization orchestrator: rules first,
// LLM fallback behind a confidence gate.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/rules"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

// ConfidenceThreshold gates rule matches: a weaker textual match (regex,
// description) falls through to the LLM instead of being accepted outright.
const ConfidenceThreshold = 0.7

// Orchestrator runs the two-stage categorization flow over persisted
// transactions.
type Orchestrator struct {
	store      service.Storage
	classifier service.Classifier
	llmEnabled bool
}

// RecategorizeResult reports the outcome of a categorization scan. Skipped
// counts transactions left untouched (split parents, protected manual
// overrides, and unchanged categories); Errors are per-transaction and never
// abort the scan.
type RecategorizeResult struct {
	Updated []model.Transaction `json:"updated"`
	Skipped int                 `json:"skipped"`
	Errors  []RecategorizeError `json:"errors"`
}

// RecategorizeError records a single transaction that could not be updated.
type RecategorizeError struct {
	TransactionID string `json:"transactionId"`
	Message       string `json:"message"`
}

// NewOrchestrator creates an orchestrator. A nil classifier or a disabled
// flag yields rule-only categorization.
func NewOrchestrator(store service.Storage, classifier service.Classifier, llmEnabled bool) *Orchestrator {
	return &Orchestrator{
		store:      store,
		classifier: classifier,
		llmEnabled: llmEnabled && classifier != nil,
	}
}

// CategorizeTransactions categorizes the named transactions in place.
// Manually overridden transactions are never touched. Per-transaction write
// failures are logged and do not abort the pass.
func (o *Orchestrator) CategorizeTransactions(ctx context.Context, ownerID string, ids []string) error {
	_, err := o.run(ctx, ownerID, ids, false, false)
	return err
}

// Recategorize re-runs categorization over the named transactions. Manual
// overrides are skipped unless includeManual is set; included overrides are
// re-evaluated but keep their override flag and correction timestamp. A
// transaction whose resulting category matches its current one is counted
// as skipped and left untouched.
func (o *Orchestrator) Recategorize(ctx context.Context, ownerID string, ids []string, includeManual bool) (*RecategorizeResult, error) {
	return o.run(ctx, ownerID, ids, includeManual, true)
}

// pendingTxn is a transaction that fell through the rule gate, carrying the
// below-threshold rule match (if any) for the LLM-disabled path.
type pendingTxn struct {
	weakMatch *rules.Match
	idx       int
}

func (o *Orchestrator) run(ctx context.Context, ownerID string, ids []string, includeManual, skipUnchanged bool) (*RecategorizeResult, error) {
	txns, err := o.store.ListTransactionsByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}

	result := &RecategorizeResult{Updated: []model.Transaction{}, Errors: []RecategorizeError{}}
	if len(txns) == 0 {
		return result, nil
	}

	ownerRules, err := o.store.ListRules(ctx, ownerID, true)
	if err != nil {
		return nil, err
	}
	categories, err := o.store.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var needLLM []pendingTxn

	for i := range txns {
		txn := &txns[i]
		if txn.IsSplitParent {
			result.Skipped++
			continue
		}
		if txn.ManualOverride && !includeManual {
			result.Skipped++
			continue
		}

		match := rules.Evaluate(txn, ownerRules)
		if match == nil || match.Explainability.Confidence < ConfidenceThreshold {
			needLLM = append(needLLM, pendingTxn{idx: i, weakMatch: match})
			continue
		}

		if skipUnchanged && sameCategory(txn.CategoryID, &match.CategoryID) {
			result.Skipped++
			continue
		}

		applyMatch(txn, match)
		if !o.writeTxn(ctx, txn, result) {
			continue
		}

		// Best-effort telemetry; a failed bump never fails the run.
		if err := o.store.BumpRuleStats(ctx, ownerID, match.Rule.ID, time.Now().UTC()); err != nil {
			slog.Warn("Failed to bump rule stats",
				"ruleId", match.Rule.ID, "error", err)
		}
	}

	if len(needLLM) == 0 {
		return result, nil
	}

	if !o.llmEnabled {
		for _, p := range needLLM {
			txn := &txns[p.idx]
			if p.weakMatch != nil {
				if skipUnchanged && sameCategory(txn.CategoryID, &p.weakMatch.CategoryID) {
					result.Skipped++
					continue
				}
				applyMatch(txn, p.weakMatch)
			} else {
				if skipUnchanged && txn.CategoryID == nil {
					result.Skipped++
					continue
				}
				applyNoMatch(txn, 0, "", "")
			}
			o.writeTxn(ctx, txn, result)
		}
		return result, nil
	}

	inputs := make([]service.ClassifyInput, 0, len(needLLM))
	for _, p := range needLLM {
		inputs = append(inputs, service.ClassifyInput{
			TransactionID: txns[p.idx].ID,
			Description:   txns[p.idx].Description,
			MerchantRaw:   txns[p.idx].MerchantRaw,
			Amount:        txns[p.idx].Amount,
		})
	}

	results := o.classifier.ClassifyBatch(ctx, inputs, categories)

	for _, p := range needLLM {
		txn := &txns[p.idx]
		answer, ok := results[txn.ID]
		switch {
		case ok && answer.CategoryID != nil:
			if skipUnchanged && sameCategory(txn.CategoryID, answer.CategoryID) {
				result.Skipped++
				continue
			}
			applyLLM(txn, answer)
		case ok:
			if skipUnchanged && txn.CategoryID == nil {
				result.Skipped++
				continue
			}
			applyNoMatch(txn, answer.Confidence, answer.Model, answer.Reasoning)
		default:
			if skipUnchanged && txn.CategoryID == nil {
				result.Skipped++
				continue
			}
			applyNoMatch(txn, 0, "", "")
		}
		o.writeTxn(ctx, txn, result)
	}

	return result, nil
}

// writeTxn persists one transaction, recording a per-transaction error on
// failure. Returns true when the write succeeded.
func (o *Orchestrator) writeTxn(ctx context.Context, txn *model.Transaction, result *RecategorizeResult) bool {
	if err := o.store.UpdateTransaction(ctx, txn); err != nil {
		slog.Warn("Failed to update transaction during categorization",
			"transactionId", txn.ID, "error", err)
		result.Errors = append(result.Errors, RecategorizeError{
			TransactionID: txn.ID,
			Message:       err.Error(),
		})
		return false
	}
	result.Updated = append(result.Updated, *txn)
	return true
}

func sameCategory(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func applyMatch(txn *model.Transaction, match *rules.Match) {
	txn.CategoryID = &match.CategoryID
	txn.Explainability = match.Explainability
	txn.AutoCategory = &model.AutoCategory{
		CategoryID:     &match.CategoryID,
		Explainability: match.Explainability,
	}
	txn.Tags = mergeTags(txn.Tags, match.AddTags)
}

func applyLLM(txn *model.Transaction, result service.Classification) {
	modelName := result.Model
	reasoning := result.Reasoning
	explain := model.Explainability{
		Reason:       model.ReasonLLM,
		Confidence:   result.Confidence,
		Timestamp:    time.Now().UTC(),
		LLMModel:     &modelName,
		LLMReasoning: &reasoning,
	}
	txn.CategoryID = result.CategoryID
	txn.Explainability = explain
	txn.AutoCategory = &model.AutoCategory{
		CategoryID:     result.CategoryID,
		Explainability: explain,
	}
}

func applyNoMatch(txn *model.Transaction, confidence float64, modelName, reasoning string) {
	explain := model.Explainability{
		Reason:     model.ReasonNoMatch,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	}
	if modelName != "" {
		explain.LLMModel = &modelName
	}
	if reasoning != "" {
		explain.LLMReasoning = &reasoning
	}
	txn.CategoryID = nil
	txn.Explainability = explain
	txn.AutoCategory = &model.AutoCategory{Explainability: explain}
}

func mergeTags(existing, add []string) []string {
	if len(add) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	merged := append([]string{}, existing...)
	for _, t := range existing {
		seen[t] = struct{}{}
	}
	for _, t := range add {
		if _, dup := seen[t]; dup {
			continue
		}
		merged = append(merged, t)
		seen[t] = struct{}{}
	}
	if len(merged) > model.MaxTags {
		merged = merged[:model.MaxTags]
	}
	return merged
}
