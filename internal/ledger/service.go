// Package ledger implements user-facing transaction operations: manual
// corrections, notes and tags, and split/unsplit.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/rules"
	"github.com/ledgerhound/ledgerhound/internal/service"

	"github.com/google/uuid"
)

// Split bounds.
const (
	MinSplitParts = 2
	MaxSplitParts = 10
)

// Service owns transaction mutations.
type Service struct {
	store       service.Storage
	ruleService *rules.Service
}

// NewService creates a ledger service.
func NewService(store service.Storage, ruleService *rules.Service) *Service {
	return &Service{store: store, ruleService: ruleService}
}

// Update carries the user-editable transaction fields. Nil means unchanged.
type Update struct {
	CategoryID *string
	Notes      *string
	Tags       []string
}

// Apply updates a transaction. Setting a category is a manual correction:
// the override flag goes up, the automatic result is preserved for audit,
// and at most one rule suggestion may come back with the transaction.
func (s *Service) Apply(ctx context.Context, ownerID, id string, update Update) (*model.Transaction, *model.RuleSuggestion, error) {
	txn, err := s.store.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}

	if update.Notes != nil {
		if err := model.ValidateNotes(*update.Notes); err != nil {
			return nil, nil, err
		}
		txn.Notes = *update.Notes
	}
	if update.Tags != nil {
		if err := model.ValidateTags(update.Tags); err != nil {
			return nil, nil, err
		}
		txn.Tags = update.Tags
	}

	var suggestion *model.RuleSuggestion
	if update.CategoryID != nil {
		categoryID := *update.CategoryID
		if _, err := s.store.GetCategory(ctx, ownerID, categoryID); err != nil {
			return nil, nil, err
		}

		// Snapshot the automatic result before the manual answer replaces it.
		if !txn.ManualOverride && txn.AutoCategory == nil &&
			txn.Explainability.Reason != model.ReasonManual {
			txn.AutoCategory = &model.AutoCategory{
				CategoryID:     txn.CategoryID,
				Explainability: txn.Explainability,
			}
		}

		now := time.Now().UTC()
		txn.CategoryID = &categoryID
		txn.ManualOverride = true
		txn.CorrectedAt = &now
		txn.Explainability = model.Explainability{
			Reason:     model.ReasonManual,
			Confidence: 1.0,
			Timestamp:  now,
		}

		suggestion, err = s.ruleService.SuggestOnCorrection(ctx, ownerID, txn, categoryID)
		if err != nil {
			// A failed suggestion never blocks the correction itself.
			suggestion = nil
		}
	}

	if err := s.store.UpdateTransaction(ctx, txn); err != nil {
		return nil, nil, err
	}
	return txn, suggestion, nil
}

// SplitPart is one requested piece of a split.
type SplitPart struct {
	Amount     int64
	CategoryID *string
	Notes      string
}

// Split divides a transaction into parts. The parts must sum exactly to the
// parent amount and carry its sign. The parent stays in place as a hidden
// split parent; the whole operation is atomic.
func (s *Service) Split(ctx context.Context, ownerID, id string, parts []SplitPart) ([]model.Transaction, error) {
	if len(parts) < MinSplitParts || len(parts) > MaxSplitParts {
		return nil, common.Validationf("split requires between %d and %d parts", MinSplitParts, MaxSplitParts)
	}

	parent, err := s.store.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if parent.IsSplitParent {
		return nil, common.Conflictf("transaction %s is already split", id)
	}
	if parent.SplitParentID != nil {
		return nil, common.Validationf("a split child cannot be split again")
	}

	var sum int64
	for i, part := range parts {
		if part.Amount == 0 {
			return nil, common.Validationf("split part %d has zero amount", i+1)
		}
		if (part.Amount > 0) != (parent.Amount > 0) {
			return nil, common.Validationf("split part %d does not match the parent's sign", i+1)
		}
		if part.CategoryID != nil {
			if _, err := s.store.GetCategory(ctx, ownerID, *part.CategoryID); err != nil {
				return nil, err
			}
		}
		if err := model.ValidateNotes(part.Notes); err != nil {
			return nil, err
		}
		sum += part.Amount
	}
	if sum != parent.Amount {
		return nil, common.Validationf("split parts sum to %d, parent amount is %d", sum, parent.Amount)
	}

	n := len(parts)
	children := make([]model.Transaction, 0, n)

	err = s.store.RunInTransaction(ctx, func(tx service.Storage) error {
		parent.IsSplitParent = true
		if err := tx.UpdateTransaction(ctx, parent); err != nil {
			return err
		}

		now := time.Now().UTC()
		parentID := parent.ID
		for i, part := range parts {
			explain := model.Explainability{
				Reason:     model.ReasonSplit,
				Confidence: 1.0,
				Timestamp:  now,
			}
			child := model.Transaction{
				ID:                 uuid.NewString(),
				OwnerID:            parent.OwnerID,
				AccountID:          parent.AccountID,
				ImportID:           parent.ImportID,
				PostedAt:           parent.PostedAt,
				Amount:             part.Amount,
				Description:        fmt.Sprintf("%s (Split %d/%d)", parent.Description, i+1, n),
				MerchantRaw:        parent.MerchantRaw,
				MerchantNormalized: parent.MerchantNormalized,
				CategoryID:         part.CategoryID,
				Notes:              part.Notes,
				Tags:               []string{},
				SplitParentID:      &parentID,
				Explainability:     explain,
				TxKey:              fmt.Sprintf("%s_split_%d", parent.TxKey, i+1),
			}
			// A caller-chosen category on a part is a manual assignment.
			if part.CategoryID != nil {
				child.ManualOverride = true
				child.CorrectedAt = &now
				child.AutoCategory = &model.AutoCategory{Explainability: explain}
			}
			if err := tx.CreateTransaction(ctx, &child); err != nil {
				return err
			}
			children = append(children, child)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// Unsplit removes a split: all children are deleted and the parent returns
// to listings. Atomic like Split.
func (s *Service) Unsplit(ctx context.Context, ownerID, id string) (*model.Transaction, error) {
	parent, err := s.store.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !parent.IsSplitParent {
		return nil, common.Conflictf("transaction %s is not split", id)
	}

	err = s.store.RunInTransaction(ctx, func(tx service.Storage) error {
		if _, err := tx.DeleteSplitChildren(ctx, ownerID, id); err != nil {
			return err
		}
		parent.IsSplitParent = false
		return tx.UpdateTransaction(ctx, parent)
	})
	if err != nil {
		return nil, err
	}
	return parent, nil
}

// GetSplits returns the children of a split parent.
func (s *Service) GetSplits(ctx context.Context, ownerID, id string) ([]model.Transaction, error) {
	parent, err := s.store.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !parent.IsSplitParent {
		return nil, common.Validationf("transaction %s is not split", id)
	}
	return s.store.ListSplitChildren(ctx, ownerID, id)
}
