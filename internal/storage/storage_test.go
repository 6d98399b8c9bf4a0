package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testAccount(owner string) *model.Account {
	return &model.Account{
		ID:      "acct-" + owner,
		OwnerID: owner,
		Name:    "Chequing",
		Type:    model.AccountChecking,
	}
}

func testTransaction(owner, accountID, id string, postedAt time.Time, amount int64, description string) *model.Transaction {
	return &model.Transaction{
		ID:          id,
		OwnerID:     owner,
		AccountID:   accountID,
		ImportID:    "import-1",
		PostedAt:    postedAt,
		Amount:      amount,
		Description: description,
		MerchantRaw: description,
		Tags:        []string{},
		Explainability: model.Explainability{
			Reason:    model.ReasonNoMatch,
			Timestamp: time.Now().UTC(),
		},
	}
}

func TestAccountLifecycle(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	account := testAccount("alice")
	require.NoError(t, store.CreateAccount(ctx, account))

	got, err := store.GetAccount(ctx, "alice", account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chequing", got.Name)
	assert.Equal(t, model.AccountChecking, got.Type)

	got.Name = "Everyday Chequing"
	require.NoError(t, store.UpdateAccount(ctx, got))

	updated, err := store.GetAccount(ctx, "alice", account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Everyday Chequing", updated.Name)

	require.NoError(t, store.DeleteAccount(ctx, "alice", account.ID))
	_, err = store.GetAccount(ctx, "alice", account.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateAccountRequiresOwner(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	account := testAccount("")
	err := store.CreateAccount(ctx, account)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCrossOwnerLookupsAreNotFound(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	account := testAccount("alice")
	require.NoError(t, store.CreateAccount(ctx, account))

	txn := testTransaction("alice", account.ID, "txn-1", time.Now().UTC(), -500, "COFFEE")
	require.NoError(t, store.CreateTransaction(ctx, txn))

	_, err := store.GetAccount(ctx, "mallory", account.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = store.GetTransaction(ctx, "mallory", "txn-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// The other owner's listing is empty, not an error.
	page, err := store.ListTransactions(ctx, "mallory", service.TransactionFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Transactions)
}

func TestDuplicateTxKeyConflicts(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, testAccount("alice")))

	postedAt := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	first := testTransaction("alice", "acct-alice", "txn-1", postedAt, -1250, "GROCER")
	require.NoError(t, store.CreateTransaction(ctx, first))

	dup := testTransaction("alice", "acct-alice", "txn-2", postedAt, -1250, "GROCER")
	err := store.CreateTransaction(ctx, dup)
	assert.ErrorIs(t, err, common.ErrConflict)

	// The same row under a different owner is not a duplicate.
	require.NoError(t, store.CreateAccount(ctx, testAccount("bob")))
	other := testTransaction("bob", "acct-bob", "txn-3", postedAt, -1250, "GROCER")
	require.NoError(t, store.CreateTransaction(ctx, other))

	exists, err := store.TransactionKeyExists(ctx, "alice", first.TxKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListTransactionsPagination(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, testAccount("alice")))

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		txn := testTransaction("alice", "acct-alice", ids(i), base.AddDate(0, 0, i), -100*int64(i+1), descs(i))
		require.NoError(t, store.CreateTransaction(ctx, txn))
	}

	page1, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Transactions, 2)
	assert.True(t, page1.HasMore)
	assert.NotEmpty(t, page1.NextCursor)
	// Newest first.
	assert.Equal(t, ids(4), page1.Transactions[0].ID)
	assert.Equal(t, ids(3), page1.Transactions[1].ID)

	page2, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{Limit: 2, Cursor: page1.NextCursor})
	require.NoError(t, err)
	require.Len(t, page2.Transactions, 2)
	assert.Equal(t, ids(2), page2.Transactions[0].ID)
	assert.True(t, page2.HasMore)

	page3, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{Limit: 2, Cursor: page2.NextCursor})
	require.NoError(t, err)
	require.Len(t, page3.Transactions, 1)
	assert.False(t, page3.HasMore)
	assert.Empty(t, page3.NextCursor)
}

func ids(i int) string   { return []string{"txn-a", "txn-b", "txn-c", "txn-d", "txn-e"}[i] }
func descs(i int) string { return []string{"ONE", "TWO", "THREE", "FOUR", "FIVE"}[i] }

func TestListTransactionsInvalidCursor(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.ListTransactions(context.Background(), "alice",
		service.TransactionFilter{Cursor: "not-a-cursor!!!"})
	assert.ErrorIs(t, err, ErrInvalidCursor)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestListTransactionsFilters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, testAccount("alice")))

	postedAt := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	dining := "dining"
	coffee := testTransaction("alice", "acct-alice", "txn-coffee", postedAt, -450, "CARD COFFEE SHOP")
	coffee.MerchantNormalized = "COFFEE SHOP"
	coffee.CategoryID = &dining
	coffee.Tags = []string{"work"}
	require.NoError(t, store.CreateTransaction(ctx, coffee))

	salary := testTransaction("alice", "acct-alice", "txn-salary", postedAt.AddDate(0, 0, 1), 250000, "PAYROLL")
	salary.MerchantNormalized = "PAYROLL"
	require.NoError(t, store.CreateTransaction(ctx, salary))

	parent := testTransaction("alice", "acct-alice", "txn-parent", postedAt.AddDate(0, 0, 2), -900, "SPLIT ME")
	parent.IsSplitParent = true
	require.NoError(t, store.CreateTransaction(ctx, parent))

	t.Run("category", func(t *testing.T) {
		page, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{CategoryID: &dining, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Transactions, 1)
		assert.Equal(t, "txn-coffee", page.Transactions[0].ID)
	})

	t.Run("uncategorized", func(t *testing.T) {
		page, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{Uncategorized: true, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Transactions, 1)
		assert.Equal(t, "txn-salary", page.Transactions[0].ID)
	})

	t.Run("merchant substring", func(t *testing.T) {
		m := "COFFEE"
		page, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{Merchant: &m, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Transactions, 1)
	})

	t.Run("amount bounds inclusive", func(t *testing.T) {
		minA, maxA := int64(-450), int64(-450)
		page, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{MinAmount: &minA, MaxAmount: &maxA, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Transactions, 1)
		assert.Equal(t, "txn-coffee", page.Transactions[0].ID)
	})

	t.Run("tags", func(t *testing.T) {
		page, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{Tags: []string{"work"}, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Transactions, 1)
	})

	t.Run("split parents hidden by default", func(t *testing.T) {
		page, err := store.ListTransactions(ctx, "alice", service.TransactionFilter{Limit: 10})
		require.NoError(t, err)
		for _, txn := range page.Transactions {
			assert.False(t, txn.IsSplitParent)
		}

		page, err = store.ListTransactions(ctx, "alice", service.TransactionFilter{IncludeSplitParents: true, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, page.Transactions, 3)
	})
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, testAccount("alice")))

	dining := "dining"
	ruleID := "rule-1"
	txn := testTransaction("alice", "acct-alice", "txn-1", time.Now().UTC(), -700, "LUNCH")
	txn.CategoryID = &dining
	txn.AutoCategory = &model.AutoCategory{
		CategoryID: &dining,
		Explainability: model.Explainability{
			Reason:     model.ReasonRuleMatch,
			RuleID:     &ruleID,
			Confidence: 1.0,
			Timestamp:  time.Now().UTC(),
		},
	}
	txn.Tags = []string{"lunch", "team"}
	txn.ReceiptLineItems = []model.ReceiptLineItem{
		{Name: "Sandwich", Quantity: 1, UnitPrice: 700, TotalPrice: 700},
	}
	require.NoError(t, store.CreateTransaction(ctx, txn))

	got, err := store.GetTransaction(ctx, "alice", "txn-1")
	require.NoError(t, err)
	require.NotNil(t, got.AutoCategory)
	assert.Equal(t, model.ReasonRuleMatch, got.AutoCategory.Explainability.Reason)
	require.NotNil(t, got.AutoCategory.Explainability.RuleID)
	assert.Equal(t, "rule-1", *got.AutoCategory.Explainability.RuleID)
	assert.Equal(t, []string{"lunch", "team"}, got.Tags)
	require.Len(t, got.ReceiptLineItems, 1)
	assert.Equal(t, "Sandwich", got.ReceiptLineItems[0].Name)
}

func TestRuleOrderingAndStats(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	mk := func(id string, priority int) *model.Rule {
		contains := "SHOP"
		return &model.Rule{
			ID:       id,
			OwnerID:  "alice",
			Name:     id,
			Enabled:  true,
			Priority: priority,
			Conditions: model.RuleConditions{
				MerchantContains: &contains,
			},
			Action: model.RuleAction{CategoryID: "shopping"},
			Source: model.RuleSourceUser,
		}
	}

	require.NoError(t, store.CreateRule(ctx, mk("rule-low", 100)))
	require.NoError(t, store.CreateRule(ctx, mk("rule-high", 900)))
	require.NoError(t, store.CreateRule(ctx, mk("rule-mid", 500)))

	rules, err := store.ListRules(ctx, "alice", true)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "rule-high", rules[0].ID)
	assert.Equal(t, "rule-mid", rules[1].ID)
	assert.Equal(t, "rule-low", rules[2].ID)

	matchedAt := time.Now().UTC()
	require.NoError(t, store.BumpRuleStats(ctx, "alice", "rule-high", matchedAt))
	require.NoError(t, store.BumpRuleStats(ctx, "alice", "rule-high", matchedAt))

	rule, err := store.GetRule(ctx, "alice", "rule-high")
	require.NoError(t, err)
	assert.Equal(t, 2, rule.MatchCount)
	require.NotNil(t, rule.LastMatchedAt)

	require.NoError(t, store.SetRulePriorities(ctx, "alice", map[string]int{
		"rule-low": 1000, "rule-high": 1,
	}))
	rules, err = store.ListRules(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, "rule-low", rules[0].ID)

	err = store.SetRulePriorities(ctx, "alice", map[string]int{"rule-missing": 10})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestImportTerminalStatesAreImmutable(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	imp := &model.Import{
		ID:        "import-1",
		OwnerID:   "alice",
		AccountID: "acct-alice",
		Filename:  "statement.csv",
		FileType:  model.FileCSV,
		Status:    model.ImportPending,
	}
	require.NoError(t, store.CreateImport(ctx, imp))

	imp.Status = model.ImportProcessing
	require.NoError(t, store.UpdateImport(ctx, imp))

	now := time.Now().UTC()
	imp.Status = model.ImportCompleted
	imp.TransactionCount = 12
	imp.CompletedAt = &now
	require.NoError(t, store.UpdateImport(ctx, imp))

	imp.Status = model.ImportProcessing
	err := store.UpdateImport(ctx, imp)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestDismissedSuggestionsIdempotent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	d := &model.DismissedSuggestion{
		ID:                 "dismiss-1",
		OwnerID:            "alice",
		MerchantNormalized: "COFFEE SHOP",
		CategoryID:         "dining",
	}
	require.NoError(t, store.CreateDismissedSuggestion(ctx, d))

	// Recording the same pair again is a no-op, not a conflict.
	d2 := *d
	d2.ID = "dismiss-2"
	require.NoError(t, store.CreateDismissedSuggestion(ctx, &d2))

	has, err := store.HasDismissedSuggestion(ctx, "alice", "COFFEE SHOP", "dining")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasDismissedSuggestion(ctx, "alice", "COFFEE SHOP", "groceries")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRunInTransactionRollsBack(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, testAccount("alice")))

	boom := common.Validationf("boom")
	err := store.RunInTransaction(ctx, func(tx service.Storage) error {
		txn := testTransaction("alice", "acct-alice", "txn-1", time.Now().UTC(), -100, "ROLLBACK ME")
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetTransaction(ctx, "alice", "txn-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDefaultCategoriesSeeded(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	categories, err := store.ListCategories(ctx, "anyone")
	require.NoError(t, err)
	assert.Len(t, categories, 11)

	dining, err := store.GetCategory(ctx, "anyone", "dining")
	require.NoError(t, err)
	assert.True(t, dining.IsDefault)
	assert.Nil(t, dining.OwnerID)
}
