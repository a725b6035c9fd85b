// Package llmclient implements the LLM Client and Worker Pool (C3): a
// provider-agnostic chat-completion call, backed by a fixed pool of
// workers that each own isolated HTTP/TLS client state, pre-warmed at
// startup and rate-limited by a shared token bucket.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bizintel/internal/config"
	"bizintel/internal/errs"
	"bizintel/internal/retry"
)

// Provider identifies which upstream API a completion call targets.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// CompleteRequest is one chat-completion call.
type CompleteRequest struct {
	SystemPrompt    string
	UserPrompt      string
	MaxOutputTokens int
	Temperature     float64
	JSONMode        bool
}

// CompleteResult is the text plus accounted token usage.
type CompleteResult struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	ProviderID   string
}

// providerClient is the minimal per-worker isolated client contract.
// Each worker constructs its own instance so no HTTP/TLS state is
// shared across concurrent callers (§4.3/§5).
type providerClient interface {
	complete(ctx context.Context, req CompleteRequest) (CompleteResult, error)
	providerID() string
}

// worker owns one providerClient and serves jobs submitted to the pool.
type worker struct {
	id     int
	client providerClient
	jobs   chan job
}

type job struct {
	ctx    context.Context
	req    CompleteRequest
	result chan<- jobResult
}

type jobResult struct {
	res CompleteResult
	err error
}

// Pool is the fixed-size LLM worker pool. Construct once per process
// (or per batch run) and share across all concurrent pipelines.
type Pool struct {
	workers []*worker
	jobCh   chan job
	limiter *rate.Limiter
	policy  retry.Policy
}

// NewPool constructs and pre-warms a pool of cfg.LLM.PoolSize workers.
// Any worker that fails pre-warm is not admitted to the pool; NewPool
// fails on an invalid pool size or provider configuration, or if zero
// workers survive pre-warming.
func NewPool(ctx context.Context, cfg config.LLMConfig) (*Pool, error) {
	if cfg.PoolSize <= 0 {
		return nil, &errs.ConfigError{Field: "llm.poolSize", Message: "must be positive"}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMin > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMin/60.0), burst)
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p := &Pool{
		jobCh:   make(chan job),
		limiter: limiter,
		policy:  retry.NewPolicy(maxInt(cfg.MaxRetries, 1)),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		pc, err := newProviderClient(cfg, timeout)
		if err != nil {
			return nil, err
		}
		w := &worker{id: i, client: pc, jobs: p.jobCh}
		if err := w.prewarm(ctx); err != nil {
			continue
		}
		p.workers = append(p.workers, w)
		go w.run()
	}

	if len(p.workers) == 0 {
		return nil, &errs.LLMError{Kind: errs.LLMAuth, Err: errors.New("no workers survived pre-warm")}
	}
	return p, nil
}

func (w *worker) prewarm(ctx context.Context) error {
	_, err := w.client.complete(ctx, CompleteRequest{
		SystemPrompt:    "respond with the single word: ok",
		UserPrompt:      "ping",
		MaxOutputTokens: 4,
	})
	return err
}

func (w *worker) run() {
	for j := range w.jobs {
		res, err := w.client.complete(j.ctx, j.req)
		j.result <- jobResult{res: res, err: err}
	}
}

// Complete submits req to the pool and blocks until a worker produces a
// result, retrying transient failures per the shared backoff policy and
// honoring the optional token-bucket rate limit with a bounded wait.
func (p *Pool) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	if p.limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := p.limiter.Wait(waitCtx); err != nil {
			return CompleteResult{}, &errs.LLMError{Kind: errs.LLMRateLimited, Err: err}
		}
	}

	classify := func(err error) bool {
		var le *errs.LLMError
		if errors.As(err, &le) {
			return le.Kind == errs.LLMRateLimited || le.Kind == errs.LLMTimeout || le.Kind == errs.LLMQuota
		}
		return false
	}

	var result CompleteResult
	err := retry.Do(ctx, p.policy, classify, func(ctx context.Context) error {
		resultCh := make(chan jobResult, 1)
		select {
		case p.jobCh <- job{ctx: ctx, req: req, result: resultCh}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case jr := <-resultCh:
			if jr.err != nil {
				return jr.err
			}
			result = jr.res
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return CompleteResult{}, err
	}
	return result, nil
}

// CompleteJSON requests a JSON-mode completion and applies the
// malformed-JSON recovery policy from §4.5/§9: parse the whole string,
// else extract the first {...} block, else retry once with
// reinforcement, else return an LLMMalformedOutput error for the
// caller's own fallback.
func (p *Pool) CompleteJSON(ctx context.Context, req CompleteRequest) (map[string]any, CompleteResult, error) {
	req.JSONMode = true
	res, err := p.Complete(ctx, req)
	if err != nil {
		return nil, res, err
	}
	fields, perr := ParseJSONObject(res.Text)
	if perr == nil {
		return fields, res, nil
	}

	reinforced := req
	reinforced.UserPrompt = req.UserPrompt + "\n\nRespond with only a single JSON object and no other text."
	res2, err := p.Complete(ctx, reinforced)
	if err != nil {
		return nil, res2, err
	}
	fields, perr = ParseJSONObject(res2.Text)
	if perr != nil {
		return nil, res2, &errs.LLMError{Kind: errs.LLMMalformedOutput, Err: perr}
	}
	return fields, res2, nil
}

// ParseJSONObject attempts to parse a JSON object from content: first
// the whole string, then the first {...} block found within it.
func ParseJSONObject(content string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(content), &fields); err == nil {
		return fields, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object found in content")
	}
	snippet := content[start : end+1]
	if err := json.Unmarshal([]byte(snippet), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Close stops accepting new jobs and lets in-flight workers drain.
func (p *Pool) Close() {
	close(p.jobCh)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func newProviderClient(cfg config.LLMConfig, timeout time.Duration) (providerClient, error) {
	prov := Provider(cfg.DefaultProvider)
	httpClient := &http.Client{Timeout: timeout}

	switch prov {
	case ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" || cfg.OpenAI.Model == "" {
			return nil, &errs.ConfigError{Field: "llm.openai", Message: "apiKey and model are required"}
		}
		baseURL := cfg.OpenAI.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return &openAIClient{apiKey: cfg.OpenAI.APIKey, baseURL: baseURL, model: cfg.OpenAI.Model, http: httpClient}, nil
	case ProviderAnthropic:
		if cfg.Anthropic.APIKey == "" || cfg.Anthropic.Model == "" {
			return nil, &errs.ConfigError{Field: "llm.anthropic", Message: "apiKey and model are required"}
		}
		return &anthropicClient{apiKey: cfg.Anthropic.APIKey, model: cfg.Anthropic.Model, http: httpClient}, nil
	case ProviderGoogle:
		if cfg.Google.APIKey == "" || cfg.Google.Model == "" {
			return nil, &errs.ConfigError{Field: "llm.google", Message: "apiKey and model are required"}
		}
		return &googleClient{apiKey: cfg.Google.APIKey, model: cfg.Google.Model, http: httpClient}, nil
	default:
		return nil, &errs.ConfigError{Field: "llm.defaultProvider", Message: fmt.Sprintf("unsupported provider %q", cfg.DefaultProvider)}
	}
}

// --- OpenAI-compatible chat completions ---

type openAIClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

func (c *openAIClient) providerID() string { return "openai:" + c.model }

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	Temperature    float64               `json:"temperature"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *openAIClient) complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	body := openAIChatRequest{
		Model: c.model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMMalformedOutput, Provider: c.providerID(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMTimeout, Provider: c.providerID(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return CompleteResult{}, classifyHTTPErr(c.providerID(), err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMRateLimited, Provider: c.providerID()}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMAuth, Provider: c.providerID()}
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMQuota, Provider: c.providerID()}
	}
	if resp.StatusCode >= 400 {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMTimeout, Provider: c.providerID(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMMalformedOutput, Provider: c.providerID(), Err: err}
	}
	if len(parsed.Choices) == 0 {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMMalformedOutput, Provider: c.providerID(), Err: errors.New("no choices returned")}
	}

	return CompleteResult{
		Text:         parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		ProviderID:   c.providerID(),
	}, nil
}

// --- Anthropic messages ---

type anthropicClient struct {
	apiKey string
	model  string
	http   *http.Client
}

func (c *anthropicClient) providerID() string { return "anthropic:" + c.model }

type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicTextContent `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessagesResponse struct {
	Content []anthropicTextContent `json:"content"`
	Usage   struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (c *anthropicClient) complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := anthropicMessagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: []anthropicTextContent{{Type: "text", Text: req.UserPrompt}}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMMalformedOutput, Provider: c.providerID(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMTimeout, Provider: c.providerID(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return CompleteResult{}, classifyHTTPErr(c.providerID(), err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMRateLimited, Provider: c.providerID()}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMAuth, Provider: c.providerID()}
	}

	var parsed anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMMalformedOutput, Provider: c.providerID(), Err: err}
	}
	if len(parsed.Content) == 0 {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMMalformedOutput, Provider: c.providerID(), Err: errors.New("no content returned")}
	}

	return CompleteResult{
		Text:         parsed.Content[0].Text,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		ProviderID:   c.providerID(),
	}, nil
}

// --- Google Gemini ---

type googleClient struct {
	apiKey string
	model  string
	http   *http.Client
}

func (c *googleClient) providerID() string { return "google:" + c.model }

type googleGenerateContentRequest struct {
	Contents []googleContent `json:"contents"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleGenerateContentResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (c *googleClient) complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	prompt := req.UserPrompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.UserPrompt
	}
	body := googleGenerateContentRequest{
		Contents: []googleContent{{Parts: []googlePart{{Text: prompt}}}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMMalformedOutput, Provider: c.providerID(), Err: err}
	}

	endpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMTimeout, Provider: c.providerID(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return CompleteResult{}, classifyHTTPErr(c.providerID(), err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMRateLimited, Provider: c.providerID()}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMAuth, Provider: c.providerID()}
	}

	var parsed googleGenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMMalformedOutput, Provider: c.providerID(), Err: err}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return CompleteResult{}, &errs.LLMError{Kind: errs.LLMMalformedOutput, Provider: c.providerID(), Err: errors.New("no candidates returned")}
	}

	return CompleteResult{
		Text:         parsed.Candidates[0].Content.Parts[0].Text,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		ProviderID:   c.providerID(),
	}, nil
}

func classifyHTTPErr(providerID string, err error, status int) *errs.LLMError {
	return &errs.LLMError{Kind: errs.LLMTimeout, Provider: providerID, Err: err}
}
