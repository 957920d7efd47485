// Package llm provides the embedding and chat-completion adapters used by
// Ingest (description cleaning, embedding) and Explain (evidence generation).
// Every adapter has a Noop implementation so the rest of the system runs
// deterministically with no external model configured.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pgvector/pgvector-go"
)

// ErrNoProvider signals that no real embedding provider is configured.
// Callers treat this as "no embedding available", not a transient failure.
var ErrNoProvider = errors.New("llm: no embedding provider configured (noop)")

const maxEmbedResponseBody = 10 * 1024 * 1024

// EmbeddingProvider generates vector embeddings from text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)
	Dimensions() int
}

// OpenAIEmbeddingProvider generates embeddings using the OpenAI API.
type OpenAIEmbeddingProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	dimensions int
}

// NewOpenAIEmbeddingProvider creates an OpenAI embedding provider. dimensions
// must match migrations/001_initial.sql's vector column width.
func NewOpenAIEmbeddingProvider(apiKey, model string, dimensions int) (*OpenAIEmbeddingProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: OpenAI API key is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("llm: embedding dimensions must be positive")
	}
	return &OpenAIEmbeddingProvider{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dimensions: dimensions,
	}, nil
}

// Dimensions returns the embedding vector size.
func (p *OpenAIEmbeddingProvider) Dimensions() int { return p.dimensions }

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed generates a single embedding.
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single API call.
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(openAIEmbedRequest{Input: texts, Model: p.model, Dimensions: p.dimensions})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llm: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: send embed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbedResponseBody))
	if err != nil {
		return nil, fmt.Errorf("llm: read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIEmbedResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != nil {
			return nil, fmt.Errorf("llm: openai embed error (HTTP %d): %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return nil, fmt.Errorf("llm: unexpected embed status %d: %s", resp.StatusCode, string(body))
	}

	var result openAIEmbedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("llm: unmarshal embed response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("llm: openai embed error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("llm: expected %d embeddings but got %d", len(texts), len(result.Data))
	}

	vecs := make([]pgvector.Vector, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("llm: invalid index %d in embed response", d.Index)
		}
		vecs[d.Index] = pgvector.NewVector(d.Embedding)
	}
	return vecs, nil
}

// NoopEmbeddingProvider returns ErrNoProvider for every call. Used when no
// embedding API key is configured; callers skip embedding storage on error.
type NoopEmbeddingProvider struct {
	dims int
}

// NewNoopEmbeddingProvider creates a provider that refuses to embed.
func NewNoopEmbeddingProvider(dims int) *NoopEmbeddingProvider {
	return &NoopEmbeddingProvider{dims: dims}
}

func (p *NoopEmbeddingProvider) Dimensions() int { return p.dims }

func (p *NoopEmbeddingProvider) Embed(_ context.Context, _ string) (pgvector.Vector, error) {
	return pgvector.Vector{}, ErrNoProvider
}

func (p *NoopEmbeddingProvider) EmbedBatch(_ context.Context, _ []string) ([]pgvector.Vector, error) {
	return nil, ErrNoProvider
}
