package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

// MaxUploadSize is the largest document accepted for ingestion.
const MaxUploadSize = 10 << 20 // 10 MiB

// Upload gate errors. The first two are validation failures with a distinct
// wire code; the account gate is a not-found with its own code so clients
// can tell a bad account from a missing import.
var (
	ErrFileTooLarge        = fmt.Errorf("%w: file exceeds %d bytes", common.ErrValidation, MaxUploadSize)
	ErrUnsupportedFileType = fmt.Errorf("%w: unsupported file type", common.ErrValidation)
	ErrAccountNotFound     = fmt.Errorf("%w: account not found", common.ErrNotFound)
)

// supportedMimeTypes maps accepted MIME types to their document kind.
var supportedMimeTypes = map[string]model.FileType{
	"text/csv":        model.FileCSV,
	"application/csv": model.FileCSV,
	"application/pdf": model.FilePDF,
	"image/jpeg":      model.FileImage,
	"image/png":       model.FileImage,
	"image/webp":      model.FileImage,
}

// extensionMimeTypes resolves a MIME type from the filename when the
// client's declared type is missing or generic.
var extensionMimeTypes = map[string]string{
	".csv":  "text/csv",
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// Categorizer is the slice of the orchestrator the pipeline needs: run
// categorization over freshly persisted transactions.
type Categorizer interface {
	CategorizeTransactions(ctx context.Context, ownerID string, ids []string) error
}

// Input is one ingestion request.
type Input struct {
	OwnerID   string
	AccountID string
	Filename  string
	MimeType  string
	Content   []byte

	// OnProgress, when set, is invoked after each row is persisted.
	OnProgress func(processed, total int)
}

// Result summarizes a completed ingestion.
type Result struct {
	Import     *model.Import
	Created    int
	Duplicates int
	Skipped    int
}

// Pipeline runs document ingestion end to end: gate, parse, normalize,
// dedupe, persist, categorize.
type Pipeline struct {
	store       service.Storage
	parser      service.DocumentParser
	categorizer Categorizer
}

// NewPipeline creates an ingestion pipeline. The parser may be nil when LLM
// features are disabled; only CSV ingestion works then.
func NewPipeline(store service.Storage, parser service.DocumentParser, categorizer Categorizer) *Pipeline {
	return &Pipeline{store: store, parser: parser, categorizer: categorizer}
}

// ResolveFileType applies the upload gates: size, then MIME type with a
// filename-extension fallback.
func ResolveFileType(filename, mimeType string, size int) (model.FileType, string, error) {
	if size > MaxUploadSize {
		return "", "", ErrFileTooLarge
	}

	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = extensionMimeTypes[strings.ToLower(filepath.Ext(filename))]
	}

	kind, ok := supportedMimeTypes[mime]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, mimeType)
	}
	return kind, mime, nil
}

// Run ingests one document. The import record tracks progress through the
// pending -> processing -> completed/failed state machine; a failure after
// the record exists is recorded on it before the error returns.
func (p *Pipeline) Run(ctx context.Context, input Input) (*Result, error) {
	kind, mime, err := ResolveFileType(input.Filename, input.MimeType, len(input.Content))
	if err != nil {
		return nil, err
	}

	// The account must exist before anything is written.
	if _, err := p.store.GetAccount(ctx, input.OwnerID, input.AccountID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, input.AccountID)
		}
		return nil, err
	}

	imp := &model.Import{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		AccountID: input.AccountID,
		Filename:  input.Filename,
		FileType:  kind,
		Status:    model.ImportPending,
	}
	if err := p.store.CreateImport(ctx, imp); err != nil {
		return nil, err
	}

	imp.Status = model.ImportProcessing
	if err := p.store.UpdateImport(ctx, imp); err != nil {
		return nil, err
	}

	result, err := p.process(ctx, input, imp, kind, mime)
	if err != nil {
		imp.Status = model.ImportFailed
		imp.ErrorMessage = err.Error()
		now := time.Now().UTC()
		imp.CompletedAt = &now
		if updateErr := p.store.UpdateImport(ctx, imp); updateErr != nil {
			slog.Error("Failed to record import failure",
				"importId", imp.ID, "error", updateErr)
		}
		return nil, err
	}

	imp.Status = model.ImportCompleted
	imp.TransactionCount = result.Created
	now := time.Now().UTC()
	imp.CompletedAt = &now
	if err := p.store.UpdateImport(ctx, imp); err != nil {
		return nil, err
	}
	result.Import = imp

	slog.Info("Import completed",
		"importId", imp.ID,
		"created", result.Created,
		"duplicates", result.Duplicates,
		"skipped", result.Skipped)
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, input Input, imp *model.Import, kind model.FileType, mime string) (*Result, error) {
	parsed, err := p.parse(ctx, input.Content, kind, mime)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	total := len(parsed.Transactions)
	createdIDs := make([]string, 0, total)

	for i, row := range parsed.Transactions {
		txn, status := p.buildTransaction(ctx, input, imp.ID, row, parsed.Receipt, total)
		switch status {
		case rowDuplicate:
			result.Duplicates++
		case rowSkipped:
			result.Skipped++
		case rowCreated:
			if err := p.store.CreateTransaction(ctx, txn); err != nil {
				if isConflict(err) {
					result.Duplicates++
				} else {
					return nil, err
				}
			} else {
				result.Created++
				createdIDs = append(createdIDs, txn.ID)
			}
		}
		if input.OnProgress != nil {
			input.OnProgress(i+1, total)
		}
	}

	if result.Created == 0 && result.Duplicates == 0 {
		return nil, fmt.Errorf("%w: no rows survived ingestion", common.ErrParseFailure)
	}

	if p.categorizer != nil && len(createdIDs) > 0 {
		if err := p.categorizer.CategorizeTransactions(ctx, input.OwnerID, createdIDs); err != nil {
			// Categorization trouble never fails the import; transactions
			// stay uncategorized and can be re-run later.
			slog.Warn("Categorization after import failed",
				"importId", imp.ID, "error", err)
		}
	}

	return result, nil
}

func (p *Pipeline) parse(ctx context.Context, content []byte, kind model.FileType, mime string) (*model.ParseResult, error) {
	if kind == model.FileCSV {
		parsed, err := ParseCSV(content)
		if err == nil {
			return parsed, nil
		}
		if p.parser == nil {
			return nil, err
		}
		// Deterministic parsing failed; let the model try the raw file.
		slog.Warn("Deterministic CSV parse failed, falling back to LLM", "error", err)
	}
	if p.parser == nil {
		return nil, fmt.Errorf("%w: document parsing requires the LLM adapter", common.ErrLLMUnavailable)
	}
	return p.parser.ParseDocument(ctx, content, kind, mime)
}

type rowStatus int

const (
	rowCreated rowStatus = iota
	rowDuplicate
	rowSkipped
)

func (p *Pipeline) buildTransaction(ctx context.Context, input Input, importID string, row model.ParsedTransaction, receipt *model.Receipt, totalRows int) (*model.Transaction, rowStatus) {
	txKey := model.GenerateTxKey(input.AccountID, row.PostedAt, row.Amount, row.Description)

	exists, err := p.store.TransactionKeyExists(ctx, input.OwnerID, txKey)
	if err != nil {
		slog.Warn("Dedup check failed, skipping row", "txKey", txKey, "error", err)
		return nil, rowSkipped
	}
	if exists {
		return nil, rowDuplicate
	}

	merchantRaw := row.MerchantRaw
	if merchantRaw == "" {
		merchantRaw = row.Description
	}
	normalized := NormalizeMerchant(merchantRaw)
	if !Usable(normalized) && p.parser != nil {
		llmNormalized, err := p.parser.NormalizeMerchant(ctx, merchantRaw)
		if err != nil {
			slog.Warn("LLM merchant normalization failed",
				"merchant", merchantRaw, "error", err)
		} else {
			normalized = llmNormalized
		}
	}

	txn := &model.Transaction{
		ID:                 uuid.NewString(),
		OwnerID:            input.OwnerID,
		AccountID:          input.AccountID,
		ImportID:           importID,
		PostedAt:           row.PostedAt,
		Amount:             row.Amount,
		Description:        row.Description,
		MerchantRaw:        merchantRaw,
		MerchantNormalized: normalized,
		Tags:               []string{},
		Explainability: model.Explainability{
			Reason:     model.ReasonNoMatch,
			Confidence: 0,
			Timestamp:  time.Now().UTC(),
		},
		TxKey: txKey,
	}

	// A receipt's line items belong to the single transaction it produced.
	if receipt != nil && totalRows == 1 {
		txn.ReceiptLineItems = receipt.LineItems
		if txn.MerchantNormalized == "" && receipt.Merchant != "" {
			txn.MerchantNormalized = NormalizeMerchant(receipt.Merchant)
		}
	}

	return txn, rowCreated
}

func isConflict(err error) bool {
	return errors.Is(err, common.ErrConflict)
}
