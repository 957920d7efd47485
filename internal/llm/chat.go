package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EvidenceBulletJSON is the strict shape Explain asks the chat adapter to
// return for each bullet. All four fields are required; the caller rejects
// any response missing one.
type EvidenceBulletJSON struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	TimeWindow string `json:"time_window"`
	Source     string `json:"source"`
}

// ExplanationJSON is the strict JSON-object schema the chat adapter must
// return: a non-empty bullets array plus a why-not-next-best sentence.
type ExplanationJSON struct {
	Bullets        []EvidenceBulletJSON `json:"evidence"`
	WhyNotNextBest string                `json:"why_not_next_best"`
}

// Validate enforces the required-fields/non-empty-array contract. An LLM
// response failing this check is treated exactly like a transport failure:
// the caller falls back to the deterministic template generator.
func (e ExplanationJSON) Validate() error {
	if len(e.Bullets) == 0 {
		return fmt.Errorf("llm: explanation has no bullets")
	}
	for i, b := range e.Bullets {
		if b.Type == "" || b.Text == "" || b.TimeWindow == "" || b.Source == "" {
			return fmt.Errorf("llm: bullet %d missing required field", i)
		}
	}
	return nil
}

// ChatProvider produces a grounded explanation for a decision from a prompt
// that enumerates the candidate's scored features. Implementations must run
// at temperature=0 so the same features always yield the same wording.
type ChatProvider interface {
	Explain(ctx context.Context, systemPrompt, userPrompt string) (ExplanationJSON, error)
}

const (
	chatPerCallTimeout       = 15 * time.Second
	ollamaChatPerCallTimeout = 90 * time.Second
)

// NoopChatProvider always fails, forcing every caller onto the deterministic
// fallback. This is the default when no chat model is configured.
type NoopChatProvider struct{}

func (NoopChatProvider) Explain(_ context.Context, _, _ string) (ExplanationJSON, error) {
	return ExplanationJSON{}, ErrNoProvider
}

// OpenAIChatProvider calls the OpenAI chat completions API with
// response_format: json_object and temperature 0.
type OpenAIChatProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIChatProvider creates a chat provider backed by the OpenAI API.
func NewOpenAIChatProvider(apiKey, model string) (*OpenAIChatProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: OpenAI API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIChatProvider{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: chatPerCallTimeout + 5*time.Second},
	}, nil
}

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat openAIResponseFmt   `json:"response_format"`
}

type openAIResponseFmt struct {
	Type string `json:"type"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIChatProvider) Explain(ctx context.Context, systemPrompt, userPrompt string) (ExplanationJSON, error) {
	callCtx, cancel := context.WithTimeout(ctx, chatPerCallTimeout)
	defer cancel()

	body, err := json.Marshal(openAIChatRequest{
		Model: p.model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0,
		ResponseFormat: openAIResponseFmt{Type: "json_object"},
	})
	if err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ExplanationJSON{}, fmt.Errorf("llm: chat status %d: %s", resp.StatusCode, string(respBody))
	}

	var result openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return ExplanationJSON{}, fmt.Errorf("llm: no choices in chat response")
	}

	var out ExplanationJSON
	if err := json.Unmarshal([]byte(result.Choices[0].Message.Content), &out); err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: unmarshal explanation json: %w", err)
	}
	if err := out.Validate(); err != nil {
		return ExplanationJSON{}, err
	}
	return out, nil
}

// OllamaChatProvider calls a local Ollama chat model. Uses the LLM_BASE_URL
// configuration; the model must support JSON-mode-style output (format: "json").
type OllamaChatProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaChatProvider creates a chat provider backed by Ollama.
func NewOllamaChatProvider(baseURL, model string) *OllamaChatProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaChatProvider{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: ollamaChatPerCallTimeout + 5*time.Second,
		},
	}
}

type ollamaChatRequest struct {
	Model     string              `json:"model"`
	Messages  []ollamaChatMessage `json:"messages"`
	Stream    bool                `json:"stream"`
	Format    string              `json:"format,omitempty"`
	KeepAlive string              `json:"keep_alive,omitempty"`
	Options   *ollamaOptions      `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Warmup loads the model into Ollama's memory before the first real call, to
// avoid paying the cold-start penalty on Explain's request path.
func (p *OllamaChatProvider) Warmup(ctx context.Context) error {
	warmCtx, cancel := context.WithTimeout(ctx, ollamaChatPerCallTimeout)
	defer cancel()

	body, _ := json.Marshal(ollamaChatRequest{
		Model:     p.model,
		Messages:  []ollamaChatMessage{{Role: "user", Content: "hi"}},
		Stream:    false,
		KeepAlive: "72h",
	})
	req, err := http.NewRequestWithContext(warmCtx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("llm: ollama warmup: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm: ollama warmup request: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm: ollama warmup status %d", resp.StatusCode)
	}
	return nil
}

func (p *OllamaChatProvider) Explain(ctx context.Context, systemPrompt, userPrompt string) (ExplanationJSON, error) {
	callCtx, cancel := context.WithTimeout(ctx, ollamaChatPerCallTimeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model: p.model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream:    false,
		Format:    "json",
		KeepAlive: "72h",
		Options:   &ollamaOptions{Temperature: 0},
	})
	if err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: marshal ollama chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: create ollama chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: ollama chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ExplanationJSON{}, fmt.Errorf("llm: ollama chat status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: decode ollama chat response: %w", err)
	}

	var out ExplanationJSON
	if err := json.Unmarshal([]byte(result.Message.Content), &out); err != nil {
		return ExplanationJSON{}, fmt.Errorf("llm: unmarshal ollama explanation json: %w", err)
	}
	if err := out.Validate(); err != nil {
		return ExplanationJSON{}, err
	}
	return out, nil
}
