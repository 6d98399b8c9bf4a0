package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
)

const importColumns = `id, owner_id, account_id, filename, file_type, status,
	transaction_count, error_message, created_at, completed_at`

// CreateImport persists a new import record.
func (s *SQLiteStorage) CreateImport(ctx context.Context, imp *model.Import) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if imp == nil {
		return common.Validationf("import must not be nil")
	}
	if err := validateString(imp.ID, "import.ID"); err != nil {
		return err
	}
	if err := validateString(imp.OwnerID, "import.OwnerID"); err != nil {
		return err
	}

	imp.CreatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO imports (`+importColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, imp.ID, imp.OwnerID, imp.AccountID, imp.Filename, string(imp.FileType),
		string(imp.Status), imp.TransactionCount, nullString(imp.ErrorMessage),
		imp.CreatedAt, nullTimePtr(imp.CompletedAt))
	if err != nil {
		return mapSQLiteErr(err, "create import")
	}
	return nil
}

// GetImport retrieves an import record within the owner scope.
func (s *SQLiteStorage) GetImport(ctx context.Context, ownerID, id string) (*model.Import, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+importColumns+` FROM imports WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "get import")
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, mapSQLiteErr(err, "get import")
		}
		return nil, common.NotFoundf("import")
	}
	return scanImport(rows)
}

// ListImports returns the owner's imports, newest first.
func (s *SQLiteStorage) ListImports(ctx context.Context, ownerID string) ([]model.Import, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+importColumns+` FROM imports WHERE owner_id = ?
		ORDER BY created_at DESC, id ASC
	`, ownerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list imports")
	}
	defer func() { _ = rows.Close() }()

	imports := make([]model.Import, 0)
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		imports = append(imports, *imp)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate imports")
	}
	return imports, nil
}

// UpdateImport advances an import's status. Terminal records never change:
// updating a completed or failed import is a conflict.
func (s *SQLiteStorage) UpdateImport(ctx context.Context, imp *model.Import) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if imp == nil {
		return common.Validationf("import must not be nil")
	}

	current, err := s.GetImport(ctx, imp.OwnerID, imp.ID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return common.Conflictf("import %s is already %s", imp.ID, current.Status)
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE imports SET status = ?, transaction_count = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND owner_id = ?
	`, string(imp.Status), imp.TransactionCount, nullString(imp.ErrorMessage),
		nullTimePtr(imp.CompletedAt), imp.ID, imp.OwnerID)
	if err != nil {
		return mapSQLiteErr(err, "update import")
	}
	return requireAffected(res, "import")
}

func scanImport(rows *sql.Rows) (*model.Import, error) {
	var imp model.Import
	var errMsg sql.NullString
	var completedAt sql.NullTime

	err := rows.Scan(&imp.ID, &imp.OwnerID, &imp.AccountID, &imp.Filename,
		(*string)(&imp.FileType), (*string)(&imp.Status),
		&imp.TransactionCount, &errMsg, &imp.CreatedAt, &completedAt)
	if err != nil {
		return nil, mapSQLiteErr(err, "scan import")
	}

	imp.ErrorMessage = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		imp.CompletedAt = &t
	}
	return &imp, nil
}
