package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bizintel/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONObject_WholeString(t *testing.T) {
	fields, err := ParseJSONObject(`{"industry":"manufacturing","tech_stack":["go"]}`)
	require.NoError(t, err)
	assert.Equal(t, "manufacturing", fields["industry"])
}

func TestParseJSONObject_ExtractsEmbeddedBlock(t *testing.T) {
	content := "Sure, here is the JSON you requested:\n```json\n{\"industry\":\"saas\"}\n```\nLet me know if you need anything else."
	fields, err := ParseJSONObject(content)
	require.NoError(t, err)
	assert.Equal(t, "saas", fields["industry"])
}

func TestParseJSONObject_NoJSONFound(t *testing.T) {
	_, err := ParseJSONObject("no json here at all")
	assert.Error(t, err)
}

func newTestOpenAIServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func TestPool_CompleteJSON_SucceedsFirstTry(t *testing.T) {
	srv := newTestOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := openAIChatResponse{}
		resp.Choices = []struct {
			Message openAIChatMessage `json:"message"`
		}{{Message: openAIChatMessage{Role: "assistant", Content: `{"industry":"manufacturing"}`}}}
		resp.Usage.PromptTokens = 100
		resp.Usage.CompletionTokens = 20
		json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	cfg := config.LLMConfig{
		DefaultProvider: "openai",
		OpenAI:          config.OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"},
		PoolSize:        2,
		TimeoutMs:       5000,
		MaxRetries:      1,
	}
	pool, err := NewPool(context.Background(), cfg)
	require.NoError(t, err)
	defer pool.Close()

	fields, res, err := pool.CompleteJSON(context.Background(), CompleteRequest{UserPrompt: "extract"})
	require.NoError(t, err)
	assert.Equal(t, "manufacturing", fields["industry"])
	assert.Equal(t, int64(100), res.InputTokens)
	assert.Equal(t, int64(20), res.OutputTokens)
}

func TestPool_CompleteJSON_RecoversOnSecondAttempt(t *testing.T) {
	var calls int
	srv := newTestOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Call 1 is the worker's pre-warm, call 2 the first CompleteJSON
		// attempt (non-JSON), call 3 the reinforced retry.
		calls++
		resp := openAIChatResponse{}
		content := "not json at all"
		if calls >= 3 {
			content = `{"industry":"retail"}`
		}
		resp.Choices = []struct {
			Message openAIChatMessage `json:"message"`
		}{{Message: openAIChatMessage{Role: "assistant", Content: content}}}
		json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	cfg := config.LLMConfig{
		DefaultProvider: "openai",
		OpenAI:          config.OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"},
		PoolSize:        1,
		TimeoutMs:       5000,
		MaxRetries:      1,
	}
	pool, err := NewPool(context.Background(), cfg)
	require.NoError(t, err)
	defer pool.Close()

	fields, _, err := pool.CompleteJSON(context.Background(), CompleteRequest{UserPrompt: "extract"})
	require.NoError(t, err)
	assert.Equal(t, "retail", fields["industry"])
}

func TestNewPool_FailsConfigValidation(t *testing.T) {
	cfg := config.LLMConfig{DefaultProvider: "openai", PoolSize: 1}
	_, err := NewPool(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewPool_RejectsUnsupportedProvider(t *testing.T) {
	cfg := config.LLMConfig{DefaultProvider: "unknown-llm", PoolSize: 1}
	_, err := NewPool(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPool_RateLimiterBoundedWait(t *testing.T) {
	srv := newTestOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := openAIChatResponse{}
		resp.Choices = []struct {
			Message openAIChatMessage `json:"message"`
		}{{Message: openAIChatMessage{Role: "assistant", Content: "ok"}}}
		json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	cfg := config.LLMConfig{
		DefaultProvider: "openai",
		OpenAI:          config.OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"},
		PoolSize:        1,
		TimeoutMs:       5000,
		MaxRetries:      1,
		RequestsPerMin:  6000,
		Burst:           5,
	}
	pool, err := NewPool(context.Background(), cfg)
	require.NoError(t, err)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = pool.Complete(ctx, CompleteRequest{UserPrompt: "hi"})
	require.NoError(t, err)
}
