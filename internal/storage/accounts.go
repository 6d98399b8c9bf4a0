package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
)

// CreateAccount persists a new account.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if account == nil {
		return common.Validationf("account must not be nil")
	}
	if err := validateString(account.OwnerID, "account.OwnerID"); err != nil {
		return err
	}
	if err := validateString(account.ID, "account.ID"); err != nil {
		return err
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_id, name, type, institution, last_four, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.OwnerID, account.Name, string(account.Type),
		nullString(account.Institution), nullString(account.LastFour),
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return mapSQLiteErr(err, "create account")
	}
	return nil
}

// GetAccount retrieves an account by id within the owner scope.
func (s *SQLiteStorage) GetAccount(ctx context.Context, ownerID, id string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	row := s.q.QueryRowContext(ctx, `
		SELECT id, owner_id, name, type, institution, last_four, created_at, updated_at
		FROM accounts WHERE id = ? AND owner_id = ?
	`, id, ownerID)

	return scanAccount(row)
}

// ListAccounts returns all accounts for an owner, newest first.
func (s *SQLiteStorage) ListAccounts(ctx context.Context, ownerID string) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, owner_id, name, type, institution, last_four, created_at, updated_at
		FROM accounts WHERE owner_id = ?
		ORDER BY created_at DESC, id ASC
	`, ownerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list accounts")
	}
	defer func() { _ = rows.Close() }()

	accounts := make([]model.Account, 0)
	for rows.Next() {
		account, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate accounts")
	}
	return accounts, nil
}

// UpdateAccount updates user-editable account fields. OwnerID is immutable.
func (s *SQLiteStorage) UpdateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if account == nil {
		return common.Validationf("account must not be nil")
	}

	account.UpdatedAt = time.Now().UTC()

	res, err := s.q.ExecContext(ctx, `
		UPDATE accounts SET name = ?, type = ?, institution = ?, last_four = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, account.Name, string(account.Type), nullString(account.Institution),
		nullString(account.LastFour), account.UpdatedAt, account.ID, account.OwnerID)
	if err != nil {
		return mapSQLiteErr(err, "update account")
	}
	return requireAffected(res, "account")
}

// DeleteAccount removes an account. Callers must first ensure no
// transactions reference it.
func (s *SQLiteStorage) DeleteAccount(ctx context.Context, ownerID, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx,
		`DELETE FROM accounts WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return mapSQLiteErr(err, "delete account")
	}
	return requireAffected(res, "account")
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	var a model.Account
	var institution, lastFour sql.NullString
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, (*string)(&a.Type),
		&institution, &lastFour, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, common.NotFoundf("account")
		}
		return nil, mapSQLiteErr(err, "scan account")
	}
	a.Institution = institution.String
	a.LastFour = lastFour.String
	return &a, nil
}

func scanAccountRow(rows *sql.Rows) (*model.Account, error) {
	var a model.Account
	var institution, lastFour sql.NullString
	err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, (*string)(&a.Type),
		&institution, &lastFour, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapSQLiteErr(err, "scan account")
	}
	a.Institution = institution.String
	a.LastFour = lastFour.String
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapSQLiteErr(err, "rows affected")
	}
	if n == 0 {
		return common.NotFoundf("%s", entity)
	}
	return nil
}
