package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// CompletionProvider returns free-text completions at temperature=0. Used
// for description cleaning, where the desired output is prose rather than a
// JSON object.
type CompletionProvider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const cleanSystemPrompt = "You clean raw incident log text into a single, concise, human-readable " +
	"description. Remove timestamps, log-level tags, and stack-trace noise. Do not invent facts " +
	"not present in the input. Respond with only the cleaned description, no preamble."

// bracketedLevelPrefix matches a leading bracketed log-level tag, e.g.
// "[ERROR] ", "[WARN]: ", "[info] ".
var bracketedLevelPrefix = regexp.MustCompile(`(?i)^\s*\[(error|warn|warning|info|debug|trace|fatal|critical)\]\s*:?\s*`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanDescription produces the cleaned description for a WorkItem, per the
// primary/fallback dual-path: if rawLog is present and provider is non-nil,
// ask the LLM for a cleaned version; on any failure or absence of raw_log,
// fall back to the deterministic transform.
func CleanDescription(ctx context.Context, provider CompletionProvider, description, rawLog string) string {
	if rawLog != "" && provider != nil {
		cleaned, err := provider.Complete(ctx, cleanSystemPrompt, rawLog)
		if err == nil && strings.TrimSpace(cleaned) != "" {
			return deterministicClean(cleaned)
		}
	}
	if description != "" {
		return deterministicClean(description)
	}
	return deterministicClean(rawLog)
}

// deterministicClean trims, strips a bracketed log-level prefix, and
// collapses internal whitespace runs to single spaces.
func deterministicClean(s string) string {
	s = strings.TrimSpace(s)
	s = bracketedLevelPrefix.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NoopCompletionProvider always fails, forcing CleanDescription onto the
// deterministic fallback.
type NoopCompletionProvider struct{}

func (NoopCompletionProvider) Complete(_ context.Context, _, _ string) (string, error) {
	return "", ErrNoProvider
}

// OpenAICompletionProvider cleans text via the OpenAI chat completions API.
type OpenAICompletionProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompletionProvider creates a completion provider backed by OpenAI.
func NewOpenAICompletionProvider(apiKey, model string) (*OpenAICompletionProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: OpenAI API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAICompletionProvider{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: chatPerCallTimeout + 5*time.Second},
	}, nil
}

func (p *OpenAICompletionProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, chatPerCallTimeout)
	defer cancel()

	body, err := json.Marshal(openAIChatRequest{
		Model: p.model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: completion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("llm: completion status %d: %s", resp.StatusCode, string(respBody))
	}

	var result openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("llm: decode completion response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("llm: no choices in completion response")
	}
	return result.Choices[0].Message.Content, nil
}

// OllamaCompletionProvider cleans text via a local Ollama chat model.
type OllamaCompletionProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaCompletionProvider creates a completion provider backed by Ollama.
func NewOllamaCompletionProvider(baseURL, model string) *OllamaCompletionProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaCompletionProvider{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: ollamaChatPerCallTimeout + 5*time.Second},
	}
}

// Warmup loads the model into Ollama's memory ahead of the first real call.
func (p *OllamaCompletionProvider) Warmup(ctx context.Context) error {
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
		return fmt.Errorf("llm: ollama completion warmup: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm: ollama completion warmup request: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm: ollama completion warmup status %d", resp.StatusCode)
	}
	return nil
}

func (p *OllamaCompletionProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, ollamaChatPerCallTimeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model: p.model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream:    false,
		KeepAlive: "72h",
		Options:   &ollamaOptions{Temperature: 0},
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal ollama completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create ollama completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: ollama completion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("llm: ollama completion status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("llm: decode ollama completion response: %w", err)
	}
	return result.Message.Content, nil
}
