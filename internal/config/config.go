// Package config decodes and validates the process-wide Config used to
// construct a Runtime. It is loaded once at process start and threaded
// explicitly through the rest of the system, never read from a
// package-level global.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the ambient ops HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HTTPFetchConfig controls the plain-HTTP fetcher (C1).
type HTTPFetchConfig struct {
	UserAgent       string   `yaml:"userAgent"`
	AcceptLanguage  string   `yaml:"acceptLanguage"`
	TimeoutMs       int      `yaml:"timeoutMs"`
	MaxBytes        int64    `yaml:"maxBytes"`
	MaxRedirects    int      `yaml:"maxRedirects"`
	StrictTLS       bool     `yaml:"strictTLS"`
	MaxRetries      int      `yaml:"maxRetries"`
}

// BrowserConfig controls the shared go-rod browser fetcher (C2).
type BrowserConfig struct {
	Enabled               bool   `yaml:"enabled"`
	PageTimeoutMs         int    `yaml:"pageTimeoutMs"`
	WaitForSelector       string `yaml:"waitForSelector"`
	RestartAfterTimeouts  int    `yaml:"restartAfterTimeouts"`
	Headless              bool   `yaml:"headless"`
}

// DiscoveryConfig controls link discovery (C4).
type DiscoveryConfig struct {
	RespectRobots      bool     `yaml:"respectRobots"`
	MaxDepth           int      `yaml:"maxDepth"`
	MaxPages           int      `yaml:"maxPages"`
	MaxURLs            int      `yaml:"maxUrls"`
	MaxSitemapDepth    int      `yaml:"maxSitemapDepth"`
	ExcludePatterns    []string `yaml:"excludePatterns"`
	StripQueryStrings  bool     `yaml:"stripQueryStrings"`
}

// SelectionConfig controls page selection (C5).
type SelectionConfig struct {
	MaxPages         int      `yaml:"maxPages"`
	PriorityPaths    []string `yaml:"priorityPaths"`
	UseLLM           bool     `yaml:"useLLM"`
	AlwaysIncludeRoot bool    `yaml:"alwaysIncludeRoot"`
}

// ExtractionConfig controls content extraction (C6).
type ExtractionConfig struct {
	Concurrency   int   `yaml:"concurrency"`
	MaxCharsPage  int   `yaml:"maxCharsPage"`
	PageTimeoutMs int   `yaml:"pageTimeoutMs"`
	PreferBrowser bool  `yaml:"preferBrowser"`
}

// AggregationConfig controls intelligence aggregation (C7).
type AggregationConfig struct {
	PerPageChars    int               `yaml:"perPageChars"`
	MaxPromptChars  int               `yaml:"maxPromptChars"`
	MaxRetries      int               `yaml:"maxRetries"`
	Prices          map[string]Price  `yaml:"prices"`
}

// Price is the per-million-token cost for one provider/model pair, used
// for the cost rollup in Record.LLMCalls.
type Price struct {
	InputPerMillion  float64 `yaml:"inputPerMillion"`
	OutputPerMillion float64 `yaml:"outputPerMillion"`
}

// SocialConfig controls social-link extraction (C8).
type SocialConfig struct {
	StripConsentOverlays bool `yaml:"stripConsentOverlays"`
}

// OpenAIConfig is the OpenAI-compatible provider configuration shared by
// the LLM client and the embedding client.
type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// LLMConfig controls the LLM worker pool (C3).
type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
	PoolSize        int             `yaml:"poolSize"`
	RequestsPerMin  float64         `yaml:"requestsPerMinute"`
	Burst           int             `yaml:"burst"`
	TimeoutMs       int             `yaml:"timeoutMs"`
	MaxRetries      int             `yaml:"maxRetries"`
}

// EmbeddingConfig controls the embedding client (C9).
type EmbeddingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"baseURL"`
	APIKey     string `yaml:"apiKey"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	TimeoutMs  int    `yaml:"timeoutMs"`
	MaxRetries int    `yaml:"maxRetries"`
}

// JobConfig controls per-job timeout behavior for the pipeline (C10).
type JobConfig struct {
	TimeoutS     int `yaml:"timeoutS"`
	SoftTimeoutS int `yaml:"softTimeoutS"`
}

// BatchConfig controls the batch supervisor (C11).
type BatchConfig struct {
	Concurrency          int `yaml:"concurrency"`
	ConsecutiveFailLimit int `yaml:"consecutiveFailLimit"`
	ProgressEvery        int `yaml:"progressEvery"`
}

// DatabaseConfig controls the optional Postgres persistence collaborator.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig controls the Progress Bus pub/sub fan-out.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// Config is the full process configuration. Every field maps to a knob
// named in spec.md §6.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	HTTPFetch   HTTPFetchConfig   `yaml:"httpFetch"`
	Browser     BrowserConfig     `yaml:"browser"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Selection   SelectionConfig   `yaml:"selection"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Social      SocialConfig      `yaml:"social"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Job         JobConfig         `yaml:"job"`
	Batch       BatchConfig       `yaml:"batch"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
}

// Load reads and decodes the YAML config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate performs sanity checks so a misconfigured process fails at
// startup rather than partway through a batch run.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	provider := strings.TrimSpace(cfg.LLM.DefaultProvider)
	if provider == "" {
		return errors.New("llm.defaultProvider must be set to 'openai', 'anthropic', or 'google'")
	}
	switch provider {
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" || cfg.LLM.OpenAI.Model == "" {
			return errors.New("openai llm provider is not fully configured")
		}
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" || cfg.LLM.Anthropic.Model == "" {
			return errors.New("anthropic llm provider is not fully configured")
		}
	case "google":
		if cfg.LLM.Google.APIKey == "" || cfg.LLM.Google.Model == "" {
			return errors.New("google llm provider is not fully configured")
		}
	default:
		return fmt.Errorf("unsupported llm.defaultProvider: %s", provider)
	}

	if cfg.LLM.PoolSize <= 0 {
		return errors.New("llm.poolSize must be positive")
	}
	if cfg.Extraction.Concurrency <= 0 {
		return errors.New("extraction.concurrency must be positive")
	}
	if cfg.Batch.Concurrency <= 0 {
		return errors.New("batch.concurrency must be positive")
	}
	if cfg.Batch.Concurrency > 64 {
		return errors.New("batch.concurrency exceeds sanity ceiling of 64")
	}
	if cfg.Job.TimeoutS <= 0 {
		return errors.New("job.timeoutS must be positive")
	}
	if cfg.Embedding.Enabled && cfg.Embedding.Dimensions <= 0 {
		return errors.New("embedding.dimensions must be positive when embedding.enabled")
	}
	for name, price := range cfg.Aggregation.Prices {
		if price.InputPerMillion < 0 || price.OutputPerMillion < 0 {
			return fmt.Errorf("aggregation.prices[%s]: negative price", name)
		}
	}

	return nil
}
