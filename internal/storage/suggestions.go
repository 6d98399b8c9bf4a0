package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
)

// CreateDismissedSuggestion records that the owner declined a suggestion for
// a (merchant, category) pair. Recording the same pair twice is a no-op.
func (s *SQLiteStorage) CreateDismissedSuggestion(ctx context.Context, d *model.DismissedSuggestion) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if d == nil {
		return common.Validationf("dismissed suggestion must not be nil")
	}
	if err := validateString(d.OwnerID, "dismissal.OwnerID"); err != nil {
		return err
	}
	if err := validateString(d.MerchantNormalized, "dismissal.MerchantNormalized"); err != nil {
		return err
	}
	if err := validateString(d.CategoryID, "dismissal.CategoryID"); err != nil {
		return err
	}

	if d.DismissedAt.IsZero() {
		d.DismissedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO dismissed_suggestions (id, owner_id, merchant_normalized, category_id, dismissed_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.ID, d.OwnerID, d.MerchantNormalized, d.CategoryID, d.DismissedAt)
	if err != nil {
		mapped := mapSQLiteErr(err, "create dismissed suggestion")
		if errors.Is(mapped, common.ErrConflict) {
			return nil
		}
		return mapped
	}
	return nil
}

// HasDismissedSuggestion reports whether a (merchant, category) suggestion
// was previously dismissed by the owner.
func (s *SQLiteStorage) HasDismissedSuggestion(ctx context.Context, ownerID, merchantNormalized, categoryID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dismissed_suggestions
		WHERE owner_id = ? AND merchant_normalized = ? AND category_id = ?
	`, ownerID, merchantNormalized, categoryID).Scan(&count)
	if err != nil {
		return false, mapSQLiteErr(err, "check dismissed suggestion")
	}
	return count > 0, nil
}
