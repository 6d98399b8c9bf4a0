package llm

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

// maxBatchConcurrency bounds in-flight provider calls during batch
// classification.
const maxBatchConcurrency = 5

const classifySystemPrompt = "You are a personal finance transaction classifier. " +
	"Respond with a single JSON object and nothing else."

const parseSystemPrompt = "You extract financial transactions from bank statements and receipts. " +
	"Respond with a single JSON object and nothing else."

// Adapter implements service.Classifier and service.DocumentParser on top of
// a raw provider client, adding caching, rate limiting, and retries.
type Adapter struct {
	client  Client
	cache   *classificationCache
	limiter *rateLimiter
	retry   common.RetryOptions
	mu      sync.RWMutex
}

// NewAdapter wraps a provider client.
func NewAdapter(client Client, cfg Config) *Adapter {
	return &Adapter{
		client:  client,
		cache:   newClassificationCache(cfg.CacheTTL),
		limiter: newRateLimiter(cfg.RequestsPerMinute),
		retry: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Close releases the cache cleanup goroutine.
func (a *Adapter) Close() {
	a.cache.Close()
}

// SetClient swaps the underlying provider client. Used by tests and by
// runtime provider reconfiguration.
func (a *Adapter) SetClient(client Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = client
}

func (a *Adapter) getClient() Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

// ClassifyTransaction classifies one transaction against the owner's
// categories. Provider failures degrade to a zero-confidence result; the
// caller falls back on its confidence gate, never on an error path.
func (a *Adapter) ClassifyTransaction(ctx context.Context, input service.ClassifyInput, categories []model.Category) service.Classification {
	client := a.getClient()
	key := cacheKey(input, categories)

	if cached, ok := a.cache.get(key); ok {
		return cached
	}

	prompt := buildClassifyPrompt(input, categories)

	var content string
	err := common.WithRetry(ctx, func() error {
		if err := a.limiter.wait(ctx); err != nil {
			return err
		}
		var callErr error
		content, callErr = client.Complete(ctx, Request{
			System:    classifySystemPrompt,
			Prompt:    prompt,
			MaxTokens: 300,
		})
		return callErr
	}, a.retry)
	if err != nil {
		slog.Warn("LLM classification failed",
			"transactionId", input.TransactionID, "error", err)
		return service.Classification{
			Confidence: 0,
			Reasoning:  fmt.Sprintf("llm unavailable: %v", err),
			Model:      client.Model(),
		}
	}

	result := parseClassification(content, categories, client.Model())
	a.cache.set(key, result)
	return result
}

// ClassifyBatch classifies many transactions concurrently, at most
// maxBatchConcurrency in flight. Every input gets an entry in the result
// map; individual failures never fail the batch.
func (a *Adapter) ClassifyBatch(ctx context.Context, inputs []service.ClassifyInput, categories []model.Category) map[string]service.Classification {
	results := make(map[string]service.Classification, len(inputs))
	if len(inputs) == 0 {
		return results
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, maxBatchConcurrency)
	)

	for _, input := range inputs {
		wg.Add(1)
		go func(in service.ClassifyInput) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := a.ClassifyTransaction(ctx, in, categories)

			mu.Lock()
			results[in.TransactionID] = result
			mu.Unlock()
		}(input)
	}

	wg.Wait()
	return results
}

// ParseDocument extracts transactions from a PDF statement or receipt
// image. A document yielding zero transactions is a parse failure.
func (a *Adapter) ParseDocument(ctx context.Context, content []byte, kind model.FileType, mimeType string) (*model.ParseResult, error) {
	client := a.getClient()
	prompt := buildParsePrompt(kind)

	var raw string
	err := common.WithRetry(ctx, func() error {
		if err := a.limiter.wait(ctx); err != nil {
			return err
		}
		var callErr error
		raw, callErr = client.Complete(ctx, Request{
			System:    parseSystemPrompt,
			Prompt:    prompt,
			Document:  content,
			MimeType:  mimeType,
			MaxTokens: 8192,
		})
		return callErr
	}, a.retry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrLLMUnavailable, err)
	}

	result, err := parseDocumentResponse(raw)
	if err != nil {
		return nil, err
	}
	if len(result.Transactions) == 0 {
		return nil, fmt.Errorf("%w: document yielded no transactions", common.ErrParseFailure)
	}
	return result, nil
}

// NormalizeMerchant asks the model for a canonical merchant name. Used only
// when the deterministic normalizer produces an unusable result.
func (a *Adapter) NormalizeMerchant(ctx context.Context, rawMerchant string) (string, error) {
	client := a.getClient()

	prompt := fmt.Sprintf(
		"Extract the canonical merchant name from this bank statement descriptor.\n"+
			"Descriptor: %q\n"+
			`Respond with JSON: {"merchant": "<UPPERCASE MERCHANT NAME>"}`, rawMerchant)

	var content string
	err := common.WithRetry(ctx, func() error {
		if err := a.limiter.wait(ctx); err != nil {
			return err
		}
		var callErr error
		content, callErr = client.Complete(ctx, Request{
			System:    classifySystemPrompt,
			Prompt:    prompt,
			MaxTokens: 100,
		})
		return callErr
	}, a.retry)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrLLMUnavailable, err)
	}

	var resp struct {
		Merchant string `json:"merchant"`
	}
	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(content)), &resp); err != nil {
		return "", fmt.Errorf("failed to parse merchant response: %w", err)
	}
	merchant := strings.ToUpper(strings.TrimSpace(resp.Merchant))
	if merchant == "" {
		return "", fmt.Errorf("empty merchant in response")
	}
	return merchant, nil
}

func buildClassifyPrompt(input service.ClassifyInput, categories []model.Category) string {
	var b strings.Builder
	b.WriteString("Classify this transaction into exactly one of the categories below.\n\n")
	fmt.Fprintf(&b, "Description: %s\n", input.Description)
	if input.MerchantRaw != "" {
		fmt.Fprintf(&b, "Merchant: %s\n", input.MerchantRaw)
	}
	fmt.Fprintf(&b, "Amount (minor units, negative = expense): %d\n\n", input.Amount)
	b.WriteString("Categories:\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "- %s: %s\n", c.ID, c.Name)
	}
	b.WriteString("\nRespond with JSON: " +
		`{"categoryId": "<id from the list>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`)
	return b.String()
}

func buildParsePrompt(kind model.FileType) string {
	var b strings.Builder
	switch kind {
	case model.FileImage:
		b.WriteString("This is a photo of a receipt. Extract the merchant, total, and line items.\n")
	default:
		b.WriteString("This is a bank or card statement. Extract every transaction row.\n")
	}
	b.WriteString(`
Respond with JSON:
{
  "transactions": [
    {"postedAt": "YYYY-MM-DD", "amount": <signed integer minor units, expenses negative>, "description": "<text>", "merchantRaw": "<merchant text if distinct>"}
  ],
  "receipt": {"merchant": "<name>", "total": <minor units>, "lineItems": [{"name": "<item>", "quantity": <n>, "unitPrice": <minor units>, "totalPrice": <minor units>}]}
}
Omit "receipt" unless the document is a receipt.`)
	return b.String()
}

// parseClassification decodes the model's JSON answer and sanity-checks it.
// An unknown category id yields a no-answer result; a confidence outside
// [0, 1] is coerced to 0.5.
func parseClassification(content string, categories []model.Category, modelName string) service.Classification {
	var resp struct {
		CategoryID string  `json:"categoryId"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(content)), &resp); err != nil {
		return service.Classification{
			Confidence: 0,
			Reasoning:  fmt.Sprintf("unparseable response: %v", err),
			Model:      modelName,
		}
	}

	known := false
	for _, c := range categories {
		if c.ID == resp.CategoryID {
			known = true
			break
		}
	}
	if !known {
		return service.Classification{
			Confidence: 0,
			Reasoning:  fmt.Sprintf("model answered unknown category %q", resp.CategoryID),
			Model:      modelName,
		}
	}

	confidence := resp.Confidence
	if confidence < 0 || confidence > 1 {
		confidence = 0.5
	}

	categoryID := resp.CategoryID
	return service.Classification{
		CategoryID: &categoryID,
		Confidence: confidence,
		Reasoning:  resp.Reasoning,
		Model:      modelName,
	}
}

func parseDocumentResponse(content string) (*model.ParseResult, error) {
	var resp struct {
		Transactions []struct {
			PostedAt    string `json:"postedAt"`
			Amount      int64  `json:"amount"`
			Description string `json:"description"`
			MerchantRaw string `json:"merchantRaw"`
		} `json:"transactions"`
		Receipt *model.Receipt `json:"receipt,omitempty"`
	}
	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(content)), &resp); err != nil {
		return nil, fmt.Errorf("%w: unparseable document response: %v", common.ErrParseFailure, err)
	}

	result := &model.ParseResult{Receipt: resp.Receipt}
	for _, t := range resp.Transactions {
		postedAt, err := time.Parse("2006-01-02", t.PostedAt)
		if err != nil {
			slog.Warn("Skipping extracted row with unparseable date",
				"postedAt", t.PostedAt, "description", t.Description)
			continue
		}
		if t.Amount == 0 || t.Description == "" {
			continue
		}
		result.Transactions = append(result.Transactions, model.ParsedTransaction{
			PostedAt:    postedAt,
			Amount:      t.Amount,
			Description: t.Description,
			MerchantRaw: t.MerchantRaw,
		})
	}
	return result, nil
}

// cacheKey hashes the classification inputs plus the category id set so a
// changed category list never serves a stale answer.
func cacheKey(input service.ClassifyInput, categories []model.Category) string {
	ids := make([]string, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)

	raw := fmt.Sprintf("%s|%s|%d|%s",
		input.Description, input.MerchantRaw, input.Amount, strings.Join(ids, ","))
	return fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}
