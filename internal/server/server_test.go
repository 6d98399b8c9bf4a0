package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerhound/ledgerhound/internal/analytics"
	"github.com/ledgerhound/ledgerhound/internal/engine"
	"github.com/ledgerhound/ledgerhound/internal/ingest"
	"github.com/ledgerhound/ledgerhound/internal/ledger"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/rules"
	"github.com/ledgerhound/ledgerhound/internal/storage"
)

type serverTest struct {
	handler http.Handler
	store   *storage.SQLiteStorage
}

func newServerTest(t *testing.T, opts Options) *serverTest {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	ruleService := rules.NewService(store)
	ledgerService := ledger.NewService(store, ruleService)
	orchestrator := engine.NewOrchestrator(store, nil, false)
	pipeline := ingest.NewPipeline(store, nil, orchestrator)
	aggregator := analytics.NewAggregator(store)

	srv := New(store, ruleService, ledgerService, orchestrator, pipeline, aggregator, opts)
	return &serverTest{handler: srv.Router(), store: store}
}

func (h *serverTest) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set("X-User-Id", owner)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func (h *serverTest) createAccount(t *testing.T, owner string) string {
	t.Helper()

	rec := h.do(t, http.MethodPost, "/api/v1/accounts", owner, map[string]string{
		"name": "Checking",
		"type": "checking",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data model.Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data.ID
}

func (h *serverTest) seedTransaction(t *testing.T, owner, accountID string) string {
	t.Helper()

	id := uuid.NewString()
	txn := &model.Transaction{
		ID:                 id,
		OwnerID:            owner,
		AccountID:          accountID,
		PostedAt:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:             -450,
		Description:        "COFFEE SHOP",
		MerchantRaw:        "COFFEE SHOP",
		MerchantNormalized: "COFFEE SHOP",
		Tags:               []string{},
		Explainability: model.Explainability{
			Reason:    model.ReasonNoMatch,
			Timestamp: time.Now().UTC(),
		},
		TxKey: fmt.Sprintf("key-%s", id),
	}
	require.NoError(t, h.store.CreateTransaction(context.Background(), txn))
	return id
}

func TestAuthRequired(t *testing.T) {
	h := newServerTest(t, Options{})

	rec := h.do(t, http.MethodGet, "/api/v1/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, codeUnauthorized, env.Error.Code)
}

func TestLocalDevBypass(t *testing.T) {
	h := newServerTest(t, Options{AllowLocalDevBypass: true})

	accountID := h.createAccount(t, "")

	// The bypass identity owns what it creates.
	rec := h.do(t, http.MethodGet, "/api/v1/accounts/"+accountID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/accounts/"+accountID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzSkipsAuth(t *testing.T) {
	h := newServerTest(t, Options{})

	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
}

func TestCrossOwnerIsNotFound(t *testing.T) {
	h := newServerTest(t, Options{})

	accountID := h.createAccount(t, "alice")

	rec := h.do(t, http.MethodGet, "/api/v1/accounts/"+accountID, "mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, codeNotFound, env.Error.Code)
}

func TestCreateAccountValidation(t *testing.T) {
	h := newServerTest(t, Options{})

	rec := h.do(t, http.MethodPost, "/api/v1/accounts", "alice", map[string]string{
		"name": "Checking",
		"type": "offshore",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, codeValidationError, env.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-User-Id", "alice")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env = decodeEnvelope(t, rec)
	assert.Equal(t, codeInvalidRequest, env.Error.Code)
}

func TestListTransactionsEnvelope(t *testing.T) {
	h := newServerTest(t, Options{})
	accountID := h.createAccount(t, "alice")
	h.seedTransaction(t, "alice", accountID)

	rec := h.do(t, http.MethodGet, "/api/v1/transactions?limit=10&month=2026-03", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                `json:"success"`
		Data    []model.Transaction `json:"data"`
		Meta    *meta               `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	require.NotNil(t, resp.Meta)
	require.NotNil(t, resp.Meta.Pagination)
	assert.False(t, resp.Meta.Pagination.HasMore)

	// A different month excludes the seeded transaction.
	rec = h.do(t, http.MethodGet, "/api/v1/transactions?month=2026-04", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp.Data = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)

	rec = h.do(t, http.MethodGet, "/api/v1/transactions?month=march", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseTransactionFilter(t *testing.T) {
	t.Run("limit is capped", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?limit=500", nil)
		filter, err := parseTransactionFilter(r)
		require.NoError(t, err)
		assert.Equal(t, maxPageLimit, filter.Limit)
	})

	t.Run("month sets the date range", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?month=2026-03", nil)
		filter, err := parseTransactionFilter(r)
		require.NoError(t, err)
		require.NotNil(t, filter.StartDate)
		require.NotNil(t, filter.EndDate)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *filter.StartDate)
		assert.Equal(t, time.March, filter.EndDate.Month())
	})

	t.Run("defaults to the current month", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
		filter, err := parseTransactionFilter(r)
		require.NoError(t, err)
		now := time.Now().UTC()
		require.NotNil(t, filter.StartDate)
		assert.Equal(t, now.Year(), filter.StartDate.Year())
		assert.Equal(t, now.Month(), filter.StartDate.Month())
	})

	t.Run("explicit dates suppress the default", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?startDate=2025-01-01", nil)
		filter, err := parseTransactionFilter(r)
		require.NoError(t, err)
		require.NotNil(t, filter.StartDate)
		assert.Equal(t, 2025, filter.StartDate.Year())
		assert.Nil(t, filter.EndDate)
	})
}

func TestListTransactionsInvalidCursor(t *testing.T) {
	h := newServerTest(t, Options{})

	rec := h.do(t, http.MethodGet, "/api/v1/transactions?cursor=!!!", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, codeInvalidParameter, env.Error.Code)
}

func TestRuleRoundTrip(t *testing.T) {
	h := newServerTest(t, Options{})

	rec := h.do(t, http.MethodPost, "/api/v1/rules", "alice", map[string]any{
		"name": "Coffee to dining",
		"conditions": map[string]any{
			"merchantContains": "COFFEE",
		},
		"action": map[string]any{
			"categoryId": "dining",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data model.Rule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, model.DefaultUserPriority, created.Data.Priority)

	rec = h.do(t, http.MethodGet, "/api/v1/rules", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Data []model.Rule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 1)
	assert.Equal(t, created.Data.ID, listed.Data[0].ID)

	rec = h.do(t, http.MethodDelete, "/api/v1/rules/"+created.Data.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSplitEndpoint(t *testing.T) {
	h := newServerTest(t, Options{})
	accountID := h.createAccount(t, "alice")
	txnID := h.seedTransaction(t, "alice", accountID)

	rec := h.do(t, http.MethodPost, "/api/v1/transactions/"+txnID+"/split", "alice", map[string]any{
		"splits": []map[string]any{
			{"amount": -250, "categoryId": "dining", "notes": "my half"},
			{"amount": -200, "categoryId": "groceries"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data []model.Transaction `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "my half", resp.Data[0].Notes)
	assert.True(t, resp.Data[0].ManualOverride)

	// Splitting again conflicts.
	rec = h.do(t, http.MethodPost, "/api/v1/transactions/"+txnID+"/split", "alice", map[string]any{
		"splits": []map[string]any{
			{"amount": -250}, {"amount": -200},
		},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, codeConflict, env.Error.Code)

	// Unsplit restores the parent.
	rec = h.do(t, http.MethodPost, "/api/v1/transactions/"+txnID+"/unsplit", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var parent struct {
		Data model.Transaction `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parent))
	assert.False(t, parent.Data.IsSplitParent)
}

func TestImportUpload(t *testing.T) {
	h := newServerTest(t, Options{})
	accountID := h.createAccount(t, "alice")

	csv := "Date,Description,Amount\n2026-03-01,COFFEE SHOP,-4.50\n"
	body := map[string]string{
		"accountId": accountID,
		"content":   base64.StdEncoding.EncodeToString([]byte(csv)),
		"filename":  "statement.csv",
		"mimeType":  "text/csv",
	}

	rec := h.do(t, http.MethodPost, "/api/v1/imports/upload", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			Import  model.Import `json:"import"`
			Created int          `json:"created"`
			Skipped int          `json:"skipped"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.ImportCompleted, resp.Data.Import.Status)
	assert.Equal(t, 1, resp.Data.Created)
	assert.Zero(t, resp.Data.Skipped)

	// The same document again is fully deduplicated.
	rec = h.do(t, http.MethodPost, "/api/v1/imports/upload", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Data.Created)
	assert.Equal(t, 1, resp.Data.Skipped)
}

func TestImportUploadRejections(t *testing.T) {
	h := newServerTest(t, Options{})
	accountID := h.createAccount(t, "alice")

	csv := base64.StdEncoding.EncodeToString([]byte("Date,Description,Amount\n2026-03-01,COFFEE SHOP,-4.50\n"))

	t.Run("unknown account", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/imports/upload", "alice", map[string]string{
			"accountId": "nope",
			"content":   csv,
			"filename":  "statement.csv",
			"mimeType":  "text/csv",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, codeAccountNotFound, env.Error.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/upload", bytes.NewReader([]byte("csv")))
		req.Header.Set("X-User-Id", "alice")
		req.Header.Set("Content-Type", "text/csv")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, codeUnsupportedContentType, env.Error.Code)
	})

	t.Run("unsupported file type", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/imports/upload", "alice", map[string]string{
			"accountId": accountID,
			"content":   csv,
			"filename":  "statement.xlsx",
			"mimeType":  "application/vnd.ms-excel",
		})
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, codeUnsupportedFileType, env.Error.Code)
	})

	t.Run("bad base64", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/imports/upload", "alice", map[string]string{
			"accountId": accountID,
			"content":   "!!not-base64!!",
			"filename":  "statement.csv",
			"mimeType":  "text/csv",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, codeValidationError, env.Error.Code)
	})
}

func TestAnalyticsMonthly(t *testing.T) {
	h := newServerTest(t, Options{})
	accountID := h.createAccount(t, "alice")
	h.seedTransaction(t, "alice", accountID)

	rec := h.do(t, http.MethodGet, "/api/v1/analytics/monthly?month=2026-03", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data analytics.MonthlyOverview `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(450), resp.Data.Expenses)
	assert.Equal(t, 2026, resp.Data.Year)

	rec = h.do(t, http.MethodGet, "/api/v1/analytics/monthly?month=2026-13", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, codeInvalidParameter, env.Error.Code)
}

func TestAnalyticsCategories(t *testing.T) {
	h := newServerTest(t, Options{})
	accountID := h.createAccount(t, "alice")
	h.seedTransaction(t, "alice", accountID)

	rec := h.do(t, http.MethodGet, "/api/v1/analytics/categories?month=2026-03", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []analytics.CategoryTotal `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "uncategorized", resp.Data[0].CategoryID)
	assert.Equal(t, int64(450), resp.Data[0].Amount)
}

func TestCORSHeaders(t *testing.T) {
	h := newServerTest(t, Options{CORSAllowedOrigin: "https://app.example.com", AllowLocalDevBypass: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/accounts", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// A different origin gets no CORS grant.
	req = httptest.NewRequest(http.MethodOptions, "/api/v1/accounts", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
