package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
llm:
  defaultProvider: openai
  poolSize: 4
  openai:
    apiKey: sk-test
    model: gpt-4o-mini
extraction:
  concurrency: 5
batch:
  concurrency: 3
job:
  timeoutS: 300
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.Equal(t, 4, cfg.LLM.PoolSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestValidate_MissingProvider(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "defaultProvider")
}

func TestValidate_IncompleteProvider(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{DefaultProvider: "anthropic"}}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "anthropic")
}

func TestValidate_BatchConcurrencyCeiling(t *testing.T) {
	cfg := &Config{
		LLM:        LLMConfig{DefaultProvider: "openai", OpenAI: OpenAIConfig{APIKey: "k", Model: "m"}, PoolSize: 1},
		Extraction: ExtractionConfig{Concurrency: 1},
		Batch:      BatchConfig{Concurrency: 100},
		Job:        JobConfig{TimeoutS: 10},
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "ceiling")
}

func TestValidate_NegativePrice(t *testing.T) {
	cfg := &Config{
		LLM:        LLMConfig{DefaultProvider: "openai", OpenAI: OpenAIConfig{APIKey: "k", Model: "m"}, PoolSize: 1},
		Extraction: ExtractionConfig{Concurrency: 1},
		Batch:      BatchConfig{Concurrency: 1},
		Job:        JobConfig{TimeoutS: 10},
		Aggregation: AggregationConfig{
			Prices: map[string]Price{"gpt-4o-mini": {InputPerMillion: -1}},
		},
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "negative price")
}
