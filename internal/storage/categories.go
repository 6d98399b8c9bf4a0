package storage

import (
	"context"
	"database/sql"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
)

const categoryColumns = `id, owner_id, name, icon, color, is_default, parent_id, sort_order, is_hidden, created_at, updated_at`

// ListCategories returns default categories plus the owner's own, in sort
// order.
func (s *SQLiteStorage) ListCategories(ctx context.Context, ownerID string) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE owner_id IS NULL OR owner_id = ?
		ORDER BY sort_order ASC, name ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list categories")
	}
	defer func() { _ = rows.Close() }()

	categories := make([]model.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate categories")
	}
	return categories, nil
}

// GetCategory retrieves a category visible to the owner: a default one or
// their own.
func (s *SQLiteStorage) GetCategory(ctx context.Context, ownerID, id string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE id = ? AND (owner_id IS NULL OR owner_id = ?)
	`, id, ownerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "get category")
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, mapSQLiteErr(err, "get category")
		}
		return nil, common.NotFoundf("category")
	}
	return scanCategory(rows)
}

func scanCategory(rows *sql.Rows) (*model.Category, error) {
	var c model.Category
	var owner, parent sql.NullString
	err := rows.Scan(&c.ID, &owner, &c.Name, &c.Icon, &c.Color, &c.IsDefault,
		&parent, &c.SortOrder, &c.IsHidden, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapSQLiteErr(err, "scan category")
	}
	if owner.Valid {
		c.OwnerID = &owner.String
	}
	if parent.Valid {
		c.ParentID = &parent.String
	}
	return &c, nil
}
