// Package embeddings implements a thin HTTP client for OpenAI-compatible
// /embeddings endpoints.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/AntoineDubuc/theodore/internal/resilience"
)

// DefaultDimension is the vector width this package's default model
// produces (OpenAI text-embedding-3-small).
const DefaultDimension = 1536

const defaultBaseURL = "https://api.openai.com/v1"

// Client embeds a batch of input strings into dense vectors.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// HTTPClient is the default Client implementation, targeting any
// OpenAI-compatible /embeddings endpoint. Transient failures (429/5xx,
// transport errors) are retried with backoff.
type HTTPClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewHTTPClient builds a Client. baseURL defaults to OpenAI's API when
// empty, so the same client type can target local/self-hosted
// OpenAI-compatible servers by overriding it.
func NewHTTPClient(apiKey, baseURL, model string) *HTTPClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("embeddings", "embed")
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry,
	}
}

// WithRetryConfig overrides the transient-failure retry tuning.
func (c *HTTPClient) WithRetryConfig(cfg resilience.RetryConfig) *HTTPClient {
	c.retry = cfg
	return c
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Client.Embed against the configured endpoint. Results
// are returned in request order regardless of the response's index order.
func (c *HTTPClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embeddingsRequest{Model: c.model, Input: inputs})
	if err != nil {
		return nil, eris.Wrap(err, "embeddings: marshal request")
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([][]float32, error) {
		return c.embedOnce(ctx, payload, len(inputs))
	})
}

func (c *HTTPClient) embedOnce(ctx context.Context, payload []byte, n int) ([][]float32, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "embeddings: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "embeddings: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("embeddings: endpoint returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, eris.Wrap(err, "embeddings: decode response")
	}
	if len(parsed.Data) != n {
		return nil, eris.New("embeddings: response item count mismatch")
	}

	out := make([][]float32, n)
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, eris.New("embeddings: response index out of range")
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
