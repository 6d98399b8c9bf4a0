package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

// fakeClient scripts provider responses for adapter tests.
type fakeClient struct {
	mu        sync.Mutex
	response  string
	err       error
	calls     atomic.Int32
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
	delay     time.Duration
	responder func(req Request) (string, error)
}

func (f *fakeClient) Complete(_ context.Context, req Request) (string, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if cur <= seen || f.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.responder != nil {
		return f.responder(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response, f.err
}

func (f *fakeClient) Model() string { return "fake-model" }

func testCategories() []model.Category {
	return []model.Category{
		{ID: "dining", Name: "Dining"},
		{ID: "groceries", Name: "Groceries"},
	}
}

func newTestAdapter(t *testing.T, client Client) *Adapter {
	t.Helper()
	adapter := NewAdapter(client, Config{RequestsPerMinute: 10000, CacheTTL: time.Minute})
	t.Cleanup(adapter.Close)
	return adapter
}

func classifyInput(id string) service.ClassifyInput {
	return service.ClassifyInput{
		TransactionID: id,
		Description:   "CARD PURCHASE " + id,
		MerchantRaw:   "MERCHANT " + id,
		Amount:        -450,
	}
}

func TestClassifyTransactionParsesAnswer(t *testing.T) {
	client := &fakeClient{response: `{"categoryId": "dining", "confidence": 0.92, "reasoning": "coffee shop"}`}
	adapter := newTestAdapter(t, client)

	result := adapter.ClassifyTransaction(context.Background(), classifyInput("t1"), testCategories())
	require.NotNil(t, result.CategoryID)
	assert.Equal(t, "dining", *result.CategoryID)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	assert.Equal(t, "coffee shop", result.Reasoning)
	assert.Equal(t, "fake-model", result.Model)
}

func TestClassifyTransactionStripsMarkdownFences(t *testing.T) {
	client := &fakeClient{response: "```json\n{\"categoryId\": \"groceries\", \"confidence\": 0.8, \"reasoning\": \"weekly shop\"}\n```"}
	adapter := newTestAdapter(t, client)

	result := adapter.ClassifyTransaction(context.Background(), classifyInput("t1"), testCategories())
	require.NotNil(t, result.CategoryID)
	assert.Equal(t, "groceries", *result.CategoryID)
}

func TestClassifyTransactionUnknownCategory(t *testing.T) {
	client := &fakeClient{response: `{"categoryId": "crypto", "confidence": 0.99, "reasoning": "?"}`}
	adapter := newTestAdapter(t, client)

	result := adapter.ClassifyTransaction(context.Background(), classifyInput("t1"), testCategories())
	assert.Nil(t, result.CategoryID)
	assert.Zero(t, result.Confidence)
}

func TestClassifyTransactionCoercesOutOfRangeConfidence(t *testing.T) {
	client := &fakeClient{response: `{"categoryId": "dining", "confidence": 42, "reasoning": "sure"}`}
	adapter := newTestAdapter(t, client)

	result := adapter.ClassifyTransaction(context.Background(), classifyInput("t1"), testCategories())
	require.NotNil(t, result.CategoryID)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestClassifyTransactionDegradesOnProviderError(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("provider exploded")}
	adapter := newTestAdapter(t, client)
	adapter.retry.MaxAttempts = 1

	result := adapter.ClassifyTransaction(context.Background(), classifyInput("t1"), testCategories())
	assert.Nil(t, result.CategoryID)
	assert.Zero(t, result.Confidence)
	assert.Contains(t, result.Reasoning, "llm unavailable")
}

func TestClassifyTransactionCachesResults(t *testing.T) {
	client := &fakeClient{response: `{"categoryId": "dining", "confidence": 0.9, "reasoning": "x"}`}
	adapter := newTestAdapter(t, client)

	input := classifyInput("t1")
	_ = adapter.ClassifyTransaction(context.Background(), input, testCategories())
	_ = adapter.ClassifyTransaction(context.Background(), input, testCategories())
	assert.Equal(t, int32(1), client.calls.Load())

	// A different category set is a different cache key.
	_ = adapter.ClassifyTransaction(context.Background(), input, testCategories()[:1])
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestClassifyBatchCoversEveryInputWithBoundedConcurrency(t *testing.T) {
	client := &fakeClient{
		delay:    5 * time.Millisecond,
		response: `{"categoryId": "dining", "confidence": 0.9, "reasoning": "x"}`,
	}
	adapter := newTestAdapter(t, client)

	inputs := make([]service.ClassifyInput, 20)
	for i := range inputs {
		inputs[i] = classifyInput(fmt.Sprintf("t%d", i))
	}

	results := adapter.ClassifyBatch(context.Background(), inputs, testCategories())
	assert.Len(t, results, 20)
	for _, in := range inputs {
		_, ok := results[in.TransactionID]
		assert.True(t, ok, "missing result for %s", in.TransactionID)
	}
	assert.LessOrEqual(t, client.maxSeen.Load(), int32(maxBatchConcurrency))
}

func TestParseDocumentResponseSkipsBadRows(t *testing.T) {
	content := `{
		"transactions": [
			{"postedAt": "2026-03-01", "amount": -1250, "description": "GROCER"},
			{"postedAt": "not-a-date", "amount": -100, "description": "BAD DATE"},
			{"postedAt": "2026-03-02", "amount": 0, "description": "ZERO"},
			{"postedAt": "2026-03-03", "amount": 900, "description": ""}
		]
	}`
	result, err := parseDocumentResponse(content)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "GROCER", result.Transactions[0].Description)
}

func TestNormalizeMerchant(t *testing.T) {
	client := &fakeClient{response: `{"merchant": "coffee shop"}`}
	adapter := newTestAdapter(t, client)

	merchant, err := adapter.NormalizeMerchant(context.Background(), "CRD 1234 cfe shp #99")
	require.NoError(t, err)
	assert.Equal(t, "COFFEE SHOP", merchant)
}

func TestCleanMarkdownWrapper(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanMarkdownWrapper(in))
	}
}
