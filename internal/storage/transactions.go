package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

const txnColumns = `id, owner_id, account_id, import_id, posted_at, amount, description,
	merchant_raw, merchant_normalized, category_id, auto_category, manual_override,
	explainability, notes, tags, corrected_at, is_split_parent, split_parent_id,
	receipt_line_items, tx_key, created_at, updated_at`

// CreateTransaction persists a transaction. A duplicate (ownerId, txKey)
// surfaces as a conflict.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if txn == nil {
		return common.Validationf("transaction must not be nil")
	}
	if err := validateString(txn.ID, "transaction.ID"); err != nil {
		return err
	}
	if err := validateString(txn.OwnerID, "transaction.OwnerID"); err != nil {
		return err
	}
	if txn.TxKey == "" {
		txn.TxKey = model.GenerateTxKey(txn.AccountID, txn.PostedAt, txn.Amount, txn.Description)
	}

	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	explainJSON, err := json.Marshal(txn.Explainability)
	if err != nil {
		return fmt.Errorf("failed to marshal explainability: %w", err)
	}
	autoJSON, err := marshalNullable(txn.AutoCategory)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(emptyIfNil(txn.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	receiptJSON, err := marshalNullable(txn.ReceiptLineItems)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO transactions (`+txnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		txn.ID, txn.OwnerID, txn.AccountID, txn.ImportID, txn.PostedAt.UTC(), txn.Amount,
		txn.Description, txn.MerchantRaw, txn.MerchantNormalized,
		nullStringPtr(txn.CategoryID), autoJSON, txn.ManualOverride,
		string(explainJSON), txn.Notes, string(tagsJSON),
		nullTimePtr(txn.CorrectedAt), txn.IsSplitParent, nullStringPtr(txn.SplitParentID),
		receiptJSON, txn.TxKey, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return mapSQLiteErr(err, "create transaction")
	}
	return nil
}

// GetTransaction retrieves a transaction by id within the owner scope.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, ownerID, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "get transaction")
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, mapSQLiteErr(err, "get transaction")
		}
		return nil, common.NotFoundf("transaction")
	}
	return scanTransaction(rows)
}

// ListTransactions runs the filtered, cursored listing. Split parents are
// excluded unless the filter asks for them; split children always appear.
// Queries fetch limit+1 rows to compute hasMore and discard the surplus.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, ownerID string, filter service.TransactionFilter) (*service.TransactionPage, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	where := []string{"owner_id = ?"}
	args := []any{ownerID}

	if !filter.IncludeSplitParents {
		where = append(where, "is_split_parent = 0")
	}
	if filter.StartDate != nil {
		where = append(where, "posted_at >= ?")
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		where = append(where, "posted_at <= ?")
		args = append(args, filter.EndDate.UTC())
	}
	if filter.Uncategorized {
		where = append(where, "category_id IS NULL")
	} else if filter.CategoryID != nil {
		where = append(where, "category_id = ?")
		args = append(args, *filter.CategoryID)
	}
	if filter.AccountID != nil {
		where = append(where, "account_id = ?")
		args = append(args, *filter.AccountID)
	}
	if filter.ImportID != nil {
		where = append(where, "import_id = ?")
		args = append(args, *filter.ImportID)
	}
	if filter.Merchant != nil {
		where = append(where, "merchant_normalized LIKE ?")
		args = append(args, "%"+*filter.Merchant+"%")
	}
	if filter.MinAmount != nil {
		where = append(where, "amount >= ?")
		args = append(args, *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		where = append(where, "amount <= ?")
		args = append(args, *filter.MaxAmount)
	}
	for _, tag := range filter.Tags {
		where = append(where, "tags LIKE ?")
		args = append(args, `%"`+tag+`"%`)
	}
	if filter.ManualOverride != nil {
		where = append(where, "manual_override = ?")
		args = append(args, *filter.ManualOverride)
	}
	if filter.Cursor != "" {
		postedAt, id, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		where = append(where, "(posted_at < ? OR (posted_at = ? AND id < ?))")
		args = append(args, postedAt, postedAt, id)
	}

	query := `SELECT ` + txnColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY posted_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteErr(err, "list transactions")
	}
	defer func() { _ = rows.Close() }()

	transactions := make([]model.Transaction, 0, limit)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate transactions")
	}

	page := &service.TransactionPage{}
	if len(transactions) > limit {
		transactions = transactions[:limit]
		page.HasMore = true
		last := transactions[limit-1]
		page.NextCursor = encodeCursor(last.PostedAt, last.ID)
	}
	page.Transactions = transactions
	return page, nil
}

// ListTransactionsByIDs fetches the named transactions that belong to the
// owner. Missing or cross-owner ids are silently absent from the result.
func (s *SQLiteStorage) ListTransactionsByIDs(ctx context.Context, ownerID string, ids []string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Transaction{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE owner_id = ? AND id IN (`+placeholders+`)
		ORDER BY posted_at DESC, id DESC
	`, args...)
	if err != nil {
		return nil, mapSQLiteErr(err, "list transactions by ids")
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

// ListTransactionsByPeriod returns all non-parent transactions posted in
// [start, end], oldest first. This is the aggregator's read path.
func (s *SQLiteStorage) ListTransactionsByPeriod(ctx context.Context, ownerID string, start, end time.Time) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE owner_id = ? AND is_split_parent = 0 AND posted_at >= ? AND posted_at <= ?
		ORDER BY posted_at ASC, id ASC
	`, ownerID, start.UTC(), end.UTC())
	if err != nil {
		return nil, mapSQLiteErr(err, "list transactions by period")
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

// ListSplitChildren returns the children of a split parent.
func (s *SQLiteStorage) ListSplitChildren(ctx context.Context, ownerID, parentID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE owner_id = ? AND split_parent_id = ?
		ORDER BY id ASC
	`, ownerID, parentID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list split children")
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

// UpdateTransaction rewrites all mutable fields of a transaction.
func (s *SQLiteStorage) UpdateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if txn == nil {
		return common.Validationf("transaction must not be nil")
	}

	txn.UpdatedAt = time.Now().UTC()

	explainJSON, err := json.Marshal(txn.Explainability)
	if err != nil {
		return fmt.Errorf("failed to marshal explainability: %w", err)
	}
	autoJSON, err := marshalNullable(txn.AutoCategory)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(emptyIfNil(txn.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	receiptJSON, err := marshalNullable(txn.ReceiptLineItems)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions SET
			category_id = ?, auto_category = ?, manual_override = ?,
			explainability = ?, notes = ?, tags = ?, corrected_at = ?,
			is_split_parent = ?, receipt_line_items = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, nullStringPtr(txn.CategoryID), autoJSON, txn.ManualOverride,
		string(explainJSON), txn.Notes, string(tagsJSON), nullTimePtr(txn.CorrectedAt),
		txn.IsSplitParent, receiptJSON, txn.UpdatedAt,
		txn.ID, txn.OwnerID)
	if err != nil {
		return mapSQLiteErr(err, "update transaction")
	}
	return requireAffected(res, "transaction")
}

// DeleteSplitChildren removes all children of a split parent and returns the
// deleted count.
func (s *SQLiteStorage) DeleteSplitChildren(ctx context.Context, ownerID, parentID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	res, err := s.q.ExecContext(ctx,
		`DELETE FROM transactions WHERE owner_id = ? AND split_parent_id = ?`,
		ownerID, parentID)
	if err != nil {
		return 0, mapSQLiteErr(err, "delete split children")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapSQLiteErr(err, "rows affected")
	}
	return int(n), nil
}

// TransactionKeyExists reports whether a txKey is already present for the
// owner. This is the dedupe gate of the ingestion pipeline.
func (s *SQLiteStorage) TransactionKeyExists(ctx context.Context, ownerID, txKey string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE owner_id = ? AND tx_key = ?`,
		ownerID, txKey).Scan(&count)
	if err != nil {
		return false, mapSQLiteErr(err, "check txKey")
	}
	return count > 0, nil
}

// CountTransactionsByAccount counts transactions referencing an account.
func (s *SQLiteStorage) CountTransactionsByAccount(ctx context.Context, ownerID, accountID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE owner_id = ? AND account_id = ?`,
		ownerID, accountID).Scan(&count)
	if err != nil {
		return 0, mapSQLiteErr(err, "count transactions")
	}
	return count, nil
}

func collectTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	transactions := make([]model.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate transactions")
	}
	return transactions, nil
}

func scanTransaction(rows *sql.Rows) (*model.Transaction, error) {
	var txn model.Transaction
	var categoryID, autoCategory, splitParentID, receiptItems sql.NullString
	var correctedAt sql.NullTime

	err := rows.Scan(
		&txn.ID, &txn.OwnerID, &txn.AccountID, &txn.ImportID, &txn.PostedAt,
		&txn.Amount, &txn.Description, &txn.MerchantRaw, &txn.MerchantNormalized,
		&categoryID, &autoCategory, &txn.ManualOverride,
		&explainabilityScanner{&txn.Explainability}, &txn.Notes,
		&tagsScanner{&txn.Tags}, &correctedAt, &txn.IsSplitParent,
		&splitParentID, &receiptItems, &txn.TxKey, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, mapSQLiteErr(err, "scan transaction")
	}

	if categoryID.Valid {
		txn.CategoryID = &categoryID.String
	}
	if splitParentID.Valid {
		txn.SplitParentID = &splitParentID.String
	}
	if correctedAt.Valid {
		t := correctedAt.Time
		txn.CorrectedAt = &t
	}
	if autoCategory.Valid && autoCategory.String != "" {
		var ac model.AutoCategory
		if err := json.Unmarshal([]byte(autoCategory.String), &ac); err != nil {
			return nil, fmt.Errorf("failed to decode autoCategory: %w", err)
		}
		txn.AutoCategory = &ac
	}
	if receiptItems.Valid && receiptItems.String != "" {
		if err := json.Unmarshal([]byte(receiptItems.String), &txn.ReceiptLineItems); err != nil {
			return nil, fmt.Errorf("failed to decode receipt line items: %w", err)
		}
	}

	return &txn, nil
}

// explainabilityScanner decodes the JSON explainability column in place.
type explainabilityScanner struct {
	dst *model.Explainability
}

func (e *explainabilityScanner) Scan(src any) error {
	raw, ok := sqlText(src)
	if !ok || raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), e.dst)
}

// tagsScanner decodes the JSON tags column in place.
type tagsScanner struct {
	dst *[]string
}

func (t *tagsScanner) Scan(src any) error {
	raw, ok := sqlText(src)
	if !ok || raw == "" {
		*t.dst = []string{}
		return nil
	}
	return json.Unmarshal([]byte(raw), t.dst)
}

func sqlText(src any) (string, bool) {
	switch v := src.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case nil:
		return "", false
	default:
		return "", false
	}
}

func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case *model.AutoCategory:
		if val == nil {
			return sql.NullString{}, nil
		}
	case []model.ReceiptLineItem:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal field: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func emptyIfNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
