// Package embedding implements the Embedding Builder (C9): it derives
// a canonical text from a Record and calls an OpenAI-compatible
// embeddings endpoint to obtain a fixed-dimension dense vector.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bizintel/internal/config"
	"bizintel/internal/errs"
	"bizintel/internal/model"
	"bizintel/internal/retry"
)

// Client calls the embeddings endpoint.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	policy     retry.Policy
}

// New constructs a Client from config. Returns nil, nil if embedding is
// disabled; the pipeline then stores no embedding and marks the record
// partial.
func New(cfg config.EmbeddingConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Model == "" || cfg.Dimensions <= 0 {
		return nil, &errs.ConfigError{Field: "embedding", Message: "model and dimensions are required when enabled"}
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		policy:     retry.NewPolicy(maxRetries),
	}, nil
}

// Dimensions returns the configured embedding dimension D.
func (c *Client) Dimensions() int { return c.dimensions }

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed calls the provider and retries transient failures up to the
// configured policy, per §4.9.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := retry.Do(ctx, c.policy, retry.AlwaysRetryable, func(ctx context.Context) error {
		v, err := c.attempt(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, &errs.EmbeddingError{Err: err}
	}
	return vec, nil
}

func (c *Client) attempt(ctx context.Context, text string) ([]float32, error) {
	body := embeddingRequest{Model: c.model, Input: text}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedding endpoint returned status %d", resp.StatusCode)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, errors.New("embedding response contained no data")
	}
	vec := parsed.Data[0].Embedding
	if len(vec) != c.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), c.dimensions)
	}
	return vec, nil
}

// CanonicalText builds the fixed-order string embedded for a Record,
// per §4.9: name, industry, description, value proposition, key
// services, each truncated to avoid a single field dominating the
// embedding input.
func CanonicalText(r *model.Record) string {
	const fieldCap = 2000
	var b strings.Builder
	write := func(label, value string) {
		if value == "" {
			return
		}
		if len(value) > fieldCap {
			value = value[:fieldCap]
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n")
	}
	write("Name", r.Name)
	write("Industry", r.Industry)
	write("Description", r.Description)
	write("Value proposition", r.ValueProposition)
	if len(r.KeyServices) > 0 {
		write("Key services", strings.Join(r.KeyServices, ", "))
	}
	return strings.TrimSpace(b.String())
}
