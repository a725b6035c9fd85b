package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizintel/internal/config"
	"bizintel/internal/embedding"
	"bizintel/internal/httpfetch"
	"bizintel/internal/llmclient"
	"bizintel/internal/pipeline"
	"bizintel/internal/progress"
	"bizintel/internal/runtime"
)

func testRuntime(t *testing.T, backend *httptest.Server) *runtime.Runtime {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fetcher := httpfetch.New(httpfetch.DefaultOptions(), logger)

	cfg := &config.Config{}
	cfg.Discovery.MaxDepth = 1
	cfg.Discovery.MaxPages = 5
	cfg.Discovery.MaxURLs = 10
	cfg.Selection.MaxPages = 3
	cfg.Selection.AlwaysIncludeRoot = true
	cfg.Extraction.Concurrency = 2
	cfg.Extraction.MaxCharsPage = 5000
	cfg.Social.StripConsentOverlays = true
	cfg.Job.TimeoutS = 10

	bus := progress.New(nil, "")
	var embedder *embedding.Client
	var llmPool *llmclient.Pool
	pl := pipeline.New(fetcher, nil, llmPool, embedder, bus, cfg, logger)

	return &runtime.Runtime{
		Config:   cfg,
		Logger:   logger,
		Fetcher:  fetcher,
		LLMPool:  llmPool,
		Bus:      bus,
		Pipeline: pl,
	}
}

func TestHealthz_ShallowReturnsOK(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer backend.Close()

	rt := testRuntime(t, backend)
	s := NewServer(rt, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics_ServesPrometheusText(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	}))
	defer backend.Close()

	rt := testRuntime(t, backend)
	s := NewServer(rt, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "bizintel_jobs_total")
}

func TestExtractOne_MissingFieldsReturns400(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	rt := testRuntime(t, backend)
	s := NewServer(rt, nil)

	body, _ := json.Marshal(map[string]string{"name": "Acme"})
	req := httptest.NewRequest(http.MethodPost, "/v1/extract", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExtractOne_RunsPipelineAndReturnsRecord(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><footer><a href="https://www.linkedin.com/company/acme">LinkedIn</a></footer></body></html>`))
	}))
	defer backend.Close()

	rt := testRuntime(t, backend)
	s := NewServer(rt, nil)

	reqBody, _ := json.Marshal(map[string]string{"name": "Acme", "website": backend.URL})
	req := httptest.NewRequest(http.MethodPost, "/v1/extract", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.NotEmpty(t, payload["scrape_status"])
}

func TestGetRecord_NoStoreConfiguredReturns404(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	rt := testRuntime(t, backend)
	s := NewServer(rt, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/records/00000000-0000-0000-0000-000000000000", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
