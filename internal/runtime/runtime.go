// Package runtime wires the process-wide collaborators — config,
// logger, shared HTTP/browser/LLM/embedding clients, the progress bus,
// and the pipeline/batch supervisor built on top of them — into one
// explicit struct. Nothing here is a package-level singleton; every
// caller (cmd/bizintel-extract, internal/httpapi) receives a *Runtime
// built once at process start.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"bizintel/internal/batch"
	"bizintel/internal/browser"
	"bizintel/internal/config"
	"bizintel/internal/embedding"
	"bizintel/internal/httpfetch"
	"bizintel/internal/llmclient"
	"bizintel/internal/pipeline"
	"bizintel/internal/progress"
)

// Runtime holds every collaborator a job needs, constructed once and
// shared across every pipeline/batch run in the process.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Fetcher  *httpfetch.Fetcher
	Renderer *browser.Renderer // nil if browser.enabled=false
	LLMPool  *llmclient.Pool
	Embedder *embedding.Client // nil if embedding.enabled=false
	Bus      *progress.Bus
	Pipeline *pipeline.Pipeline
	Batch    *batch.Supervisor
}

// New constructs every collaborator from cfg and fails fast if any of
// them cannot be built: an invalid config, a browser that will not
// launch, an LLM pool with no pre-warmed worker, an invalid embedding
// config, or an unparsable redis URL.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(nil, nil))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: invalid config: %w", err)
	}

	fetchOpts := httpfetch.DefaultOptions()
	fetchOpts.UserAgent = nonEmpty(cfg.HTTPFetch.UserAgent, fetchOpts.UserAgent)
	fetchOpts.AcceptLanguage = nonEmpty(cfg.HTTPFetch.AcceptLanguage, fetchOpts.AcceptLanguage)
	if cfg.HTTPFetch.TimeoutMs > 0 {
		fetchOpts.Timeout = msToDuration(cfg.HTTPFetch.TimeoutMs)
	}
	if cfg.HTTPFetch.MaxBytes > 0 {
		fetchOpts.MaxBytes = cfg.HTTPFetch.MaxBytes
	}
	if cfg.HTTPFetch.MaxRedirects > 0 {
		fetchOpts.MaxRedirects = cfg.HTTPFetch.MaxRedirects
	}
	fetchOpts.StrictTLS = cfg.HTTPFetch.StrictTLS
	if cfg.HTTPFetch.MaxRetries > 0 {
		fetchOpts.MaxRetries = cfg.HTTPFetch.MaxRetries
	}
	fetcher := httpfetch.New(fetchOpts, logger)

	var renderer *browser.Renderer
	if cfg.Browser.Enabled {
		bopts := browser.DefaultOptions()
		bopts.Headless = cfg.Browser.Headless
		if cfg.Browser.PageTimeoutMs > 0 {
			bopts.PageTimeout = msToDuration(cfg.Browser.PageTimeoutMs)
		}
		bopts.WaitForSelector = cfg.Browser.WaitForSelector
		if cfg.Browser.RestartAfterTimeouts > 0 {
			bopts.RestartAfterTimeouts = cfg.Browser.RestartAfterTimeouts
		}
		if cfg.Extraction.Concurrency > 0 {
			bopts.Concurrency = cfg.Extraction.Concurrency
		}
		r, err := browser.New(ctx, bopts, logger)
		if err != nil {
			return nil, fmt.Errorf("runtime: launch browser: %w", err)
		}
		renderer = r
	}

	pool, err := llmclient.NewPool(ctx, cfg.LLM)
	if err != nil {
		if renderer != nil {
			renderer.Close()
		}
		return nil, fmt.Errorf("runtime: build llm pool: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		pool.Close()
		if renderer != nil {
			renderer.Close()
		}
		return nil, fmt.Errorf("runtime: build embedding client: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("runtime: parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
	}
	bus := progress.New(rdb, cfg.Redis.Channel)

	pl := pipeline.New(fetcher, renderer, pool, embedder, bus, cfg, logger)
	sup := batch.New(pl, bus, cfg.Batch)

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Fetcher:  fetcher,
		Renderer: renderer,
		LLMPool:  pool,
		Embedder: embedder,
		Bus:      bus,
		Pipeline: pl,
		Batch:    sup,
	}, nil
}

// Close tears down every long-lived collaborator. Safe to call once.
func (rt *Runtime) Close() {
	if rt.Renderer != nil {
		rt.Renderer.Close()
	}
	if rt.LLMPool != nil {
		rt.LLMPool.Close()
	}
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
