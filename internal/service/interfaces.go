// Package service defines the contracts between the core components:
// the store adapter, the LLM adapter, and the pipelines that consume them.
// Lower layers never import higher-layer types; everything meets here.
package service

import (
	"context"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/model"
)

// TransactionFilter defines filtering options for transaction list queries.
// All filters are combined with AND; amount bounds are inclusive.
type TransactionFilter struct {
	StartDate           *time.Time
	EndDate             *time.Time
	CategoryID          *string
	Uncategorized       bool
	AccountID           *string
	ImportID            *string
	Merchant            *string
	MinAmount           *int64
	MaxAmount           *int64
	Tags                []string
	ManualOverride      *bool
	IncludeSplitParents bool
	Cursor              string
	Limit               int
}

// TransactionPage is one page of a cursored transaction listing.
type TransactionPage struct {
	Transactions []model.Transaction
	NextCursor   string
	HasMore      bool
}

// RuleUpdate carries partial-update fields for a rule. Nil means unchanged.
type RuleUpdate struct {
	Name       *string
	Enabled    *bool
	Priority   *int
	Conditions *model.RuleConditions
	Action     *model.RuleAction
}

// Storage defines the contract for the persistence layer. Every operation is
// owner-scoped: implementations inject an ownerId predicate on every query
// and reject payloads carrying a different owner. Cross-owner lookups return
// ErrNotFound, never a forbidden error.
type Storage interface {
	// Account operations
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, ownerID, id string) (*model.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]model.Account, error)
	UpdateAccount(ctx context.Context, account *model.Account) error
	DeleteAccount(ctx context.Context, ownerID, id string) error

	// Category operations
	ListCategories(ctx context.Context, ownerID string) ([]model.Category, error)
	GetCategory(ctx context.Context, ownerID, id string) (*model.Category, error)

	// Transaction operations
	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, ownerID, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, ownerID string, filter TransactionFilter) (*TransactionPage, error)
	ListTransactionsByIDs(ctx context.Context, ownerID string, ids []string) ([]model.Transaction, error)
	ListTransactionsByPeriod(ctx context.Context, ownerID string, start, end time.Time) ([]model.Transaction, error)
	ListSplitChildren(ctx context.Context, ownerID, parentID string) ([]model.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *model.Transaction) error
	DeleteSplitChildren(ctx context.Context, ownerID, parentID string) (int, error)
	TransactionKeyExists(ctx context.Context, ownerID, txKey string) (bool, error)
	CountTransactionsByAccount(ctx context.Context, ownerID, accountID string) (int, error)

	// Rule operations
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, ownerID, id string) (*model.Rule, error)
	ListRules(ctx context.Context, ownerID string, enabledOnly bool) ([]model.Rule, error)
	UpdateRule(ctx context.Context, ownerID, id string, update RuleUpdate) (*model.Rule, error)
	DeleteRule(ctx context.Context, ownerID, id string) error
	CountRules(ctx context.Context, ownerID string) (int, error)
	SetRulePriorities(ctx context.Context, ownerID string, priorities map[string]int) error
	BumpRuleStats(ctx context.Context, ownerID, id string, matchedAt time.Time) error

	// Import operations
	CreateImport(ctx context.Context, imp *model.Import) error
	GetImport(ctx context.Context, ownerID, id string) (*model.Import, error)
	ListImports(ctx context.Context, ownerID string) ([]model.Import, error)
	UpdateImport(ctx context.Context, imp *model.Import) error

	// Dismissed suggestion operations
	CreateDismissedSuggestion(ctx context.Context, d *model.DismissedSuggestion) error
	HasDismissedSuggestion(ctx context.Context, ownerID, merchantNormalized, categoryID string) (bool, error)

	// RunInTransaction executes fn against a transactional view of the
	// store; on error no partial state is visible. Used by split/unsplit.
	RunInTransaction(ctx context.Context, fn func(tx Storage) error) error

	// Database management
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ClassifyInput is the per-transaction input to the LLM classifier.
type ClassifyInput struct {
	TransactionID string
	Description   string
	MerchantRaw   string
	Amount        int64
}

// Classification is the LLM's answer for one transaction. A provider
// failure is expressed as a nil CategoryID with zero confidence and the
// error text in Reasoning; it is never an error.
type Classification struct {
	CategoryID *string
	Confidence float64
	Reasoning  string
	Model      string
}

// Classifier is the provider-agnostic classification surface consumed by
// the categorization orchestrator.
type Classifier interface {
	// ClassifyTransaction classifies a single transaction against the
	// owner's categories. It never returns an error; confidence is the
	// sole signal.
	ClassifyTransaction(ctx context.Context, input ClassifyInput, categories []model.Category) Classification

	// ClassifyBatch classifies many transactions with bounded concurrency,
	// returning results keyed by transaction id once all complete. Errors
	// for individual entries never fail the batch.
	ClassifyBatch(ctx context.Context, inputs []ClassifyInput, categories []model.Category) map[string]Classification
}

// DocumentParser is the multimodal document-parsing surface consumed by the
// ingestion pipeline.
type DocumentParser interface {
	// ParseDocument extracts transactions (and, for images, a receipt
	// block) from raw document bytes.
	ParseDocument(ctx context.Context, content []byte, kind model.FileType, mimeType string) (*model.ParseResult, error)

	// NormalizeMerchant cleans a raw merchant string when the
	// deterministic normalizer produces an unusable result.
	NormalizeMerchant(ctx context.Context, raw string) (string, error)
}
