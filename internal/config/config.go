// Package config loads saiban's runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full set of settings for the composed saiban process.
type Config struct {
	// Database.
	DatabaseURL string

	// HTTP server.
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxRequestBodyBytes int64
	CORSAllowedOrigins []string

	// Telemetry.
	OTLPEndpoint   string
	OTLPInsecure   bool
	ServiceVersion string

	// Embedding/LLM provider. LLMProvider selects the chat/cleanup backend
	// ("openai", "ollama", or "noop"); embeddings are only ever sourced from
	// OpenAI or the noop fallback, since no local embedding model is wired.
	LLMProvider       string
	LLMAPIKey         string
	LLMBaseURL        string
	LLMChatModel      string
	LLMEmbeddingModel string
	EmbeddingDim      int
	LLMRequestTimeout time.Duration

	// Nearest-neighbor index (Qdrant).
	QdrantAddr               string
	QdrantAPIKey             string
	QdrantWorkItemCollection string
	QdrantHumanCollection    string

	// Tracker (external ticketing system).
	TrackerMode           string // "live" or "mock"
	TrackerBaseURL        string
	TrackerAPIToken       string
	TrackerRequestTimeout time.Duration
	ServiceProjectMap     map[string]string
	DefaultProject        string
	SeverityPriorityMap   map[string]string

	// Webhook ingestion.
	WebhookSecret          string
	WebhookUrgencyHighSev  string
	WebhookUrgencyLowSev   string

	// Decision orchestration.
	DecisionFanout        bool
	SimilarIncidentLimit  int
	DecisionTxMaxRetries  int
	DecisionTxBaseDelay   time.Duration

	// Execute retry policy.
	ExecuteMaxRetries int
	ExecuteBaseDelay  time.Duration

	// Learner background work.
	EmbeddingRefreshInterval time.Duration
	EmbeddingRefreshWindow   int // max resolved edges considered per refresh
	EmbeddingRefreshWorkers  int // concurrent (human, service) pairs per refresh pass
}

// Load reads Config from environment variables, applying defaults where the
// environment is silent, then validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error

	cfg := Config{
		DatabaseURL: envStr("DATABASE_URL", ""),

		Port:                collectInt(&errs, "PORT", 8080),
		ReadTimeout:         collectDuration(&errs, "READ_TIMEOUT", 15*time.Second),
		WriteTimeout:        collectDuration(&errs, "WRITE_TIMEOUT", 15*time.Second),
		MaxRequestBodyBytes: int64(collectInt(&errs, "MAX_REQUEST_BODY_BYTES", 1<<20)),
		CORSAllowedOrigins:  envStrSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),

		OTLPEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:   collectBool(&errs, "OTEL_EXPORTER_OTLP_INSECURE", true),
		ServiceVersion: envStr("SERVICE_VERSION", "dev"),

		LLMProvider:       envStr("LLM_PROVIDER", "noop"),
		LLMAPIKey:         envStr("LLM_API_KEY", ""),
		LLMBaseURL:        envStr("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMChatModel:      envStr("LLM_CHAT_MODEL", "gpt-4o-mini"),
		LLMEmbeddingModel: envStr("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:      collectInt(&errs, "EMBEDDING_DIM", 384),
		LLMRequestTimeout: collectDuration(&errs, "LLM_REQUEST_TIMEOUT", 10*time.Second),

		QdrantAddr:               envStr("QDRANT_ADDR", "localhost:6334"),
		QdrantAPIKey:             envStr("QDRANT_API_KEY", ""),
		QdrantWorkItemCollection: envStr("QDRANT_WORKITEM_COLLECTION", "work_items"),
		QdrantHumanCollection:    envStr("QDRANT_HUMAN_COLLECTION", "human_capability"),

		TrackerMode:           envStr("TRACKER_MODE", "mock"),
		TrackerBaseURL:        envStr("TRACKER_BASE_URL", ""),
		TrackerAPIToken:       envStr("TRACKER_API_TOKEN", ""),
		TrackerRequestTimeout: collectDuration(&errs, "TRACKER_REQUEST_TIMEOUT", 10*time.Second),
		ServiceProjectMap:     envStrMap("TRACKER_SERVICE_PROJECT_MAP", map[string]string{}),
		DefaultProject:        envStr("TRACKER_DEFAULT_PROJECT", "OPS"),
		SeverityPriorityMap: envStrMap("TRACKER_SEVERITY_PRIORITY_MAP", map[string]string{
			"sev1": "Critical",
			"sev2": "High",
			"sev3": "Medium",
			"sev4": "Low",
		}),

		WebhookSecret:         envStr("WEBHOOK_SECRET", ""),
		WebhookUrgencyHighSev: envStr("WEBHOOK_URGENCY_HIGH_SEVERITY", "sev2"),
		WebhookUrgencyLowSev:  envStr("WEBHOOK_URGENCY_LOW_SEVERITY", "sev3"),

		DecisionFanout:       collectBool(&errs, "DECISION_FANOUT", true),
		SimilarIncidentLimit: collectInt(&errs, "SIMILAR_INCIDENT_LIMIT", 20),
		DecisionTxMaxRetries: collectInt(&errs, "DECISION_TX_MAX_RETRIES", 3),
		DecisionTxBaseDelay:  collectDuration(&errs, "DECISION_TX_BASE_DELAY", 50*time.Millisecond),

		ExecuteMaxRetries: collectInt(&errs, "EXECUTE_MAX_RETRIES", 3),
		ExecuteBaseDelay:  collectDuration(&errs, "EXECUTE_BASE_DELAY", 1*time.Second),

		EmbeddingRefreshInterval: collectDuration(&errs, "EMBEDDING_REFRESH_INTERVAL", 5*time.Minute),
		EmbeddingRefreshWindow:   collectInt(&errs, "EMBEDDING_REFRESH_WINDOW", 50),
		EmbeddingRefreshWorkers:  collectInt(&errs, "EMBEDDING_REFRESH_WORKERS", 4),
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks required fields and basic invariants.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("config: DATABASE_URL is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("config: EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim))
	}
	if c.LLMProvider != "openai" && c.LLMProvider != "ollama" && c.LLMProvider != "noop" {
		errs = append(errs, fmt.Errorf("config: LLM_PROVIDER must be 'openai', 'ollama', or 'noop', got %q", c.LLMProvider))
	}
	if c.TrackerMode != "live" && c.TrackerMode != "mock" {
		errs = append(errs, fmt.Errorf("config: TRACKER_MODE must be 'live' or 'mock', got %q", c.TrackerMode))
	}
	if c.TrackerMode == "live" && c.TrackerBaseURL == "" {
		errs = append(errs, fmt.Errorf("config: TRACKER_BASE_URL is required when TRACKER_MODE=live"))
	}
	if c.ExecuteMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("config: EXECUTE_MAX_RETRIES must be >= 1, got %d", c.ExecuteMaxRetries))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envStrSlice(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envStrMap parses "k1=v1,k2=v2" into a map. Malformed entries are skipped.
func envStrMap(key string, def map[string]string) map[string]string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func collectInt(errs *[]error, key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

func collectBool(errs *[]error, key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return b
}

func collectDuration(errs *[]error, key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return d
}
