package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
	"github.com/ledgerhound/ledgerhound/internal/storage"
)

// stubCategorizer records which transactions it was asked to categorize.
type stubCategorizer struct {
	calls [][]string
	err   error
}

func (s *stubCategorizer) CategorizeTransactions(_ context.Context, _ string, ids []string) error {
	s.calls = append(s.calls, ids)
	return s.err
}

func newPipelineTest(t *testing.T) (*Pipeline, *storage.SQLiteStorage, *stubCategorizer, *model.Account) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	account := &model.Account{
		ID:      uuid.NewString(),
		OwnerID: "alice",
		Name:    "Checking",
		Type:    model.AccountChecking,
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))

	categorizer := &stubCategorizer{}
	return NewPipeline(store, nil, categorizer), store, categorizer, account
}

func csvInput(account *model.Account, content string) Input {
	return Input{
		OwnerID:   account.OwnerID,
		AccountID: account.ID,
		Filename:  "statement.csv",
		MimeType:  "text/csv",
		Content:   []byte(content),
	}
}

const sampleCSV = "Date,Description,Amount\n" +
	"2026-03-01,COFFEE SHOP #12,-4.50\n" +
	"2026-03-02,GROCER MART,-82.10\n"

func TestPipelineRunCSV(t *testing.T) {
	pipeline, store, categorizer, account := newPipelineTest(t)
	ctx := context.Background()

	var progress []int
	input := csvInput(account, sampleCSV)
	input.OnProgress = func(processed, total int) {
		progress = append(progress, processed)
		assert.Equal(t, 2, total)
	}

	result, err := pipeline.Run(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Zero(t, result.Duplicates)
	assert.Zero(t, result.Skipped)
	assert.Equal(t, []int{1, 2}, progress)

	require.NotNil(t, result.Import)
	assert.Equal(t, model.ImportCompleted, result.Import.Status)
	assert.Equal(t, 2, result.Import.TransactionCount)
	assert.NotNil(t, result.Import.CompletedAt)

	// Persisted rows carry the import id and a normalized merchant.
	page, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	for _, txn := range page.Transactions {
		assert.Equal(t, result.Import.ID, txn.ImportID)
		assert.NotEmpty(t, txn.TxKey)
		assert.Equal(t, model.ReasonNoMatch, txn.Explainability.Reason)
	}
	assert.Equal(t, "GROCER MART", page.Transactions[0].MerchantNormalized)
	assert.Equal(t, "COFFEE SHOP", page.Transactions[1].MerchantNormalized)

	require.Len(t, categorizer.calls, 1)
	assert.Len(t, categorizer.calls[0], 2)
}

func TestPipelineRunDeduplicatesOnReimport(t *testing.T) {
	pipeline, _, _, account := newPipelineTest(t)
	ctx := context.Background()

	first, err := pipeline.Run(ctx, csvInput(account, sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := pipeline.Run(ctx, csvInput(account, sampleCSV))
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 2, second.Duplicates)
	assert.Equal(t, model.ImportCompleted, second.Import.Status)
}

func TestPipelineRunUnknownAccount(t *testing.T) {
	pipeline, _, _, account := newPipelineTest(t)

	input := csvInput(account, sampleCSV)
	input.AccountID = "missing"
	_, err := pipeline.Run(context.Background(), input)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPipelineRunRecordsFailure(t *testing.T) {
	pipeline, store, _, account := newPipelineTest(t)
	ctx := context.Background()

	input := csvInput(account, "Date,Description,Amount\nnope,BAD,-1.00\n")
	_, err := pipeline.Run(ctx, input)
	require.ErrorIs(t, err, common.ErrParseFailure)

	imports, err := store.ListImports(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, model.ImportFailed, imports[0].Status)
	assert.NotEmpty(t, imports[0].ErrorMessage)
	assert.NotNil(t, imports[0].CompletedAt)
}

func TestPipelineCategorizationFailureDoesNotFailImport(t *testing.T) {
	pipeline, _, categorizer, account := newPipelineTest(t)
	categorizer.err = common.ErrLLMUnavailable

	result, err := pipeline.Run(context.Background(), csvInput(account, sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, model.ImportCompleted, result.Import.Status)
}

func TestResolveFileType(t *testing.T) {
	t.Run("mime type", func(t *testing.T) {
		kind, mime, err := ResolveFileType("statement.bin", "application/pdf", 100)
		require.NoError(t, err)
		assert.Equal(t, model.FilePDF, kind)
		assert.Equal(t, "application/pdf", mime)
	})

	t.Run("mime parameters stripped", func(t *testing.T) {
		kind, _, err := ResolveFileType("x.csv", "text/csv; charset=utf-8", 100)
		require.NoError(t, err)
		assert.Equal(t, model.FileCSV, kind)
	})

	t.Run("extension fallback", func(t *testing.T) {
		kind, mime, err := ResolveFileType("receipt.JPG", "application/octet-stream", 100)
		require.NoError(t, err)
		assert.Equal(t, model.FileImage, kind)
		assert.Equal(t, "image/jpeg", mime)
	})

	t.Run("too large", func(t *testing.T) {
		_, _, err := ResolveFileType("x.csv", "text/csv", MaxUploadSize+1)
		assert.ErrorIs(t, err, ErrFileTooLarge)
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, _, err := ResolveFileType("x.exe", "application/x-msdownload", 100)
		assert.ErrorIs(t, err, ErrUnsupportedFileType)
	})
}
