package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ledgerhound/ledgerhound/internal/common"
)

// vertexClient implements Client against the Vertex AI generateContent API
// using Application Default Credentials.
type vertexClient struct {
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	projectID   string
	location    string
	model       string
}

func newVertexClient(cfg Config) (Client, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("vertex project id is required")
	}

	location := cfg.Location
	if location == "" {
		location = "northamerica-northeast1"
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	ts, err := google.DefaultTokenSource(context.Background(),
		"https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve application default credentials: %w", err)
	}

	return &vertexClient{
		tokenSource: ts,
		projectID:   cfg.ProjectID,
		location:    location,
		model:       model,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (c *vertexClient) Model() string { return c.model }

func (c *vertexClient) endpoint() string {
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		c.location, c.projectID, c.location, c.model)
}

// Complete sends one generateContent request. Documents ride along as an
// inlineData part next to the text prompt.
func (c *vertexClient) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	parts := []map[string]any{}
	if len(req.Document) > 0 {
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{
				"mimeType": req.MimeType,
				"data":     base64.StdEncoding.EncodeToString(req.Document),
			},
		})
	}
	parts = append(parts, map[string]any{"text": req.Prompt})

	requestBody := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": parts},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": maxTokens,
			"temperature":     0.2,
		},
	}
	if req.System != "" {
		requestBody["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.System}},
		}
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	token, err := c.tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("%w: failed to obtain access token: %v", common.ErrLLMUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(string(jsonBody)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrLLMUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: vertex API", common.ErrRateLimit)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: vertex API error (status %d): %s",
			common.ErrLLMUnavailable, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return "", &common.RetryableError{
			Err:       fmt.Errorf("vertex API error (status %d): %s", resp.StatusCode, string(body)),
			Retryable: false,
		}
	}

	var response vertexResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	return response.Candidates[0].Content.Parts[0].Text, nil
}

// vertexResponse is the subset of the generateContent response we read.
type vertexResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}
