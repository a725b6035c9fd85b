package batch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bizintel/internal/config"
	"bizintel/internal/httpfetch"
	"bizintel/internal/model"
	"bizintel/internal/pipeline"
	"bizintel/internal/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher() *httpfetch.Fetcher {
	opts := httpfetch.DefaultOptions()
	opts.Timeout = 2 * time.Second
	opts.MaxRetries = 0
	return httpfetch.New(opts, nil)
}

func baseConfig() *config.Config {
	return &config.Config{
		Discovery:   config.DiscoveryConfig{MaxDepth: 1, MaxPages: 5, MaxURLs: 20},
		Selection:   config.SelectionConfig{MaxPages: 5, UseLLM: false, AlwaysIncludeRoot: true},
		Extraction:  config.ExtractionConfig{Concurrency: 5, MaxCharsPage: 2000},
		Aggregation: config.AggregationConfig{PerPageChars: 1000, MaxPromptChars: 10000},
		Social:      config.SocialConfig{},
		Job:         config.JobConfig{TimeoutS: 10},
		Batch:       config.BatchConfig{Concurrency: 2, ConsecutiveFailLimit: 3, ProgressEvery: 2},
	}
}

func TestRun_AllItemsCompleteAndSummaryCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><main><p>content here for the company</p></main></body></html>"))
	}))
	defer srv.Close()

	cfg := baseConfig()
	pl := pipeline.New(newFetcher(), nil, nil, nil, progress.New(nil, ""), cfg, nil)
	sup := New(pl, progress.New(nil, ""), cfg.Batch)

	items := []Item{
		{Index: 0, Input: pipeline.Input{Name: "A", Website: srv.URL}},
		{Index: 1, Input: pipeline.Input{Name: "B", Website: srv.URL}},
		{Index: 2, Input: pipeline.Input{Name: "C", Website: srv.URL}},
	}

	resultsCh, summaryCh := sup.Run(context.Background(), "batch-1", items)

	seen := map[int]bool{}
	for r := range resultsCh {
		seen[r.Index] = true
		assert.NotNil(t, r.Record)
	}
	summary := <-summaryCh

	assert.Len(t, seen, 3)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Partial)
	assert.False(t, summary.BreakerTripped)
}

func TestRun_CircuitBreakerTripsOnConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	srv.Close()

	cfg := baseConfig()
	cfg.Batch.Concurrency = 1
	cfg.Batch.ConsecutiveFailLimit = 2
	pl := pipeline.New(newFetcher(), nil, nil, nil, progress.New(nil, ""), cfg, nil)
	sup := New(pl, progress.New(nil, ""), cfg.Batch)

	items := []Item{
		{Index: 0, Input: pipeline.Input{Name: "A", Website: srv.URL}},
		{Index: 1, Input: pipeline.Input{Name: "B", Website: srv.URL}},
		{Index: 2, Input: pipeline.Input{Name: "C", Website: srv.URL}},
		{Index: 3, Input: pipeline.Input{Name: "D", Website: srv.URL}},
	}

	resultsCh, summaryCh := sup.Run(context.Background(), "batch-2", items)

	var results []Result
	for r := range resultsCh {
		results = append(results, r)
	}
	summary := <-summaryCh

	require.True(t, summary.BreakerTripped)
	for _, r := range results {
		assert.Equal(t, model.StatusFailed, r.Record.ScrapeStatus)
	}
}

func TestRun_CanceledFailuresDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte("<html><body><main><p>content here for the company</p></main></body></html>"))
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Batch.Concurrency = 4
	cfg.Batch.ConsecutiveFailLimit = 2
	pl := pipeline.New(newFetcher(), nil, nil, nil, progress.New(nil, ""), cfg, nil)
	sup := New(pl, progress.New(nil, ""), cfg.Batch)

	// All 4 items are admitted before cancel fires, so none of them race
	// the admission select against an already-canceled context; each
	// observes the cancel mid-flight, during its in-flight HTTP fetch.
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	items := []Item{
		{Index: 0, Input: pipeline.Input{Name: "A", Website: srv.URL}},
		{Index: 1, Input: pipeline.Input{Name: "B", Website: srv.URL}},
		{Index: 2, Input: pipeline.Input{Name: "C", Website: srv.URL}},
		{Index: 3, Input: pipeline.Input{Name: "D", Website: srv.URL}},
	}

	resultsCh, summaryCh := sup.Run(ctx, "batch-3", items)

	var results []Result
	for r := range resultsCh {
		results = append(results, r)
	}
	summary := <-summaryCh

	assert.False(t, summary.BreakerTripped)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, model.StatusFailed, r.Record.ScrapeStatus)
		require.NotNil(t, r.Record.ScrapeError)
		assert.Equal(t, "Canceled", r.Record.ScrapeError.Kind)
	}
}
