// Package pipeline implements the Extraction Pipeline (C10): the
// per-company state machine that orchestrates discovery, selection,
// extraction, aggregation, social-link extraction, and embedding into
// a single terminal Record, emitting progress events throughout.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bizintel/internal/aggregation"
	"bizintel/internal/browser"
	"bizintel/internal/config"
	"bizintel/internal/discovery"
	"bizintel/internal/embedding"
	"bizintel/internal/errs"
	"bizintel/internal/extraction"
	"bizintel/internal/httpfetch"
	"bizintel/internal/llmclient"
	"bizintel/internal/model"
	"bizintel/internal/progress"
	"bizintel/internal/selection"
	"bizintel/internal/social"
)

// Input identifies one company to extract.
type Input struct {
	Name    string
	Website string
}

// Pipeline owns references to the shared, process-wide collaborators
// (fetcher, browser, LLM pool, embedding client, progress bus) and
// config. A single Pipeline is reused across every job in a batch; it
// holds no per-job mutable state of its own.
type Pipeline struct {
	fetcher   *httpfetch.Fetcher
	renderer  *browser.Renderer
	llmPool   *llmclient.Pool
	embedder  *embedding.Client
	bus       *progress.Bus
	cfg       *config.Config
	logger    *slog.Logger
}

// New constructs a Pipeline. renderer and embedder may be nil to
// disable JS rendering and embeddings respectively.
func New(fetcher *httpfetch.Fetcher, renderer *browser.Renderer, llmPool *llmclient.Pool, embedder *embedding.Client, bus *progress.Bus, cfg *config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{fetcher: fetcher, renderer: renderer, llmPool: llmPool, embedder: embedder, bus: bus, cfg: cfg, logger: logger}
}

// Run executes the full five-phase pipeline plus embedding for one
// company and returns the terminal Record (§4.10). It never panics and
// never returns a nil Record: every failure path is encoded into the
// Record's own scrape_status/scrape_error fields.
func (p *Pipeline) Run(ctx context.Context, jobID string, in Input) *model.Record {
	start := time.Now()
	rec := model.New(jobID, in.Name, in.Website)
	rec.ScrapeStatus = model.StatusRunning

	timeout := time.Duration(p.cfg.Job.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if p.cfg.Job.SoftTimeoutS > 0 {
		softTimer := time.AfterFunc(time.Duration(p.cfg.Job.SoftTimeoutS)*time.Second, func() {
			p.emit(jobCtx, jobID, progress.PhaseDone, progress.StatusInfo, "soft timeout budget exceeded, continuing", nil)
		})
		defer softTimer.Stop()
	}

	p.emit(jobCtx, jobID, progress.PhaseQueued, progress.StatusStarted, "extraction started", nil)

	degraded := false

	// Phase 1: Discovery (never fatal).
	disc := discovery.New(p.fetcher, p.cfg.Discovery)
	discResult, _ := disc.Discover(jobCtx, in.Website)
	rec.NormalizedWebsite = discResult.NormalizedOrigin
	rec.CrawlDepth = p.cfg.Discovery.MaxDepth
	p.emit(jobCtx, jobID, progress.PhaseDiscovery, progress.StatusOK, "discovery complete", map[string]int{"candidates": len(discResult.Candidates)})

	if jobCtx.Err() != nil {
		return p.fail(rec, start, p.ctxErrCause(jobCtx, jobID))
	}

	// Phase 2: Selection (heuristic fallback never fails).
	selResult := selection.Select(jobCtx, p.llmPoolOrNil(), in.Name, discResult.NormalizedOrigin, discResult.Candidates, p.cfg.Selection)
	rec.SelectionMethod = string(selResult.Method)
	p.emit(jobCtx, jobID, progress.PhaseSelection, progress.StatusOK, "page selection complete", map[string]int{"selected": len(selResult.URLs)})

	if jobCtx.Err() != nil {
		return p.fail(rec, start, p.ctxErrCause(jobCtx, jobID))
	}

	// Phase 3: Extraction. Phase fails the whole job iff zero pages
	// produced any text (§4.10 phase3→phase4 transition).
	extractor := extraction.New(p.fetcher, p.renderer, p.cfg.Extraction)
	pageResults := extractor.Extract(jobCtx, selResult.URLs)
	if !extraction.Succeeded(pageResults) {
		rec.ScrapedContentDetails = extraction.ToDetails(pageResults)
		p.emit(jobCtx, jobID, progress.PhaseExtraction, progress.StatusFailed, "no page yielded usable content", nil)
		return p.fail(rec, start, &errs.NoContent{})
	}

	rec.ScrapedContentDetails = extraction.ToDetails(pageResults)
	rec.PagesCrawled = make([]string, 0, len(pageResults))
	var aggPages []aggregation.Page
	var socialPages []social.Page
	for _, pr := range pageResults {
		rec.PagesCrawled = append(rec.PagesCrawled, pr.URL)
		if pr.Success && pr.CleanedText != "" {
			aggPages = append(aggPages, aggregation.Page{URL: pr.URL, Text: pr.CleanedText})
		}
		if pr.Success && pr.RawHTML != "" {
			socialPages = append(socialPages, social.Page{URL: pr.URL, HTML: pr.RawHTML})
		}
	}
	p.emit(jobCtx, jobID, progress.PhaseExtraction, progress.StatusOK, "content extraction complete", map[string]int{"pages": len(rec.PagesCrawled)})

	if jobCtx.Err() != nil {
		return p.fail(rec, start, p.ctxErrCause(jobCtx, jobID))
	}

	// Phase 4: Aggregation (always continues; degrades to partial on
	// repeated malformed JSON, per §4.10 phase4→phase5 transition).
	if p.llmPool != nil {
		aggResult := aggregation.Aggregate(jobCtx, p.llmPool, rec, aggPages, p.cfg.Aggregation)
		if !aggResult.OK {
			degraded = true
			p.emit(jobCtx, jobID, progress.PhaseAggregation, progress.StatusPartial, "aggregation returned unusable output", nil)
		} else {
			p.emit(jobCtx, jobID, progress.PhaseAggregation, progress.StatusOK, "aggregation complete", nil)
		}
	} else {
		degraded = true
		p.emit(jobCtx, jobID, progress.PhaseAggregation, progress.StatusPartial, "no LLM pool configured", nil)
	}

	// Phase 5: Social link extraction (never fails; empty map is valid).
	rec.SocialMedia = social.Extract(socialPages, p.cfg.Social)
	p.emit(jobCtx, jobID, progress.PhaseSocial, progress.StatusOK, "social extraction complete", map[string]int{"platforms": len(rec.SocialMedia)})

	// Embedding. A nil embedder (embedding.enabled=false) is treated the
	// same as an embedding failure: success requires embedding.length=D
	// (§3 invariant 2 / §8 invariant 1), so skipping it silently would
	// let a record reach success with embedding=nil.
	if p.embedder != nil {
		vec, err := p.embedder.Embed(jobCtx, embedding.CanonicalText(rec))
		if err != nil {
			degraded = true
			p.emit(jobCtx, jobID, progress.PhaseEmbedding, progress.StatusPartial, "embedding failed: "+err.Error(), nil)
		} else {
			rec.Embedding = vec
			p.emit(jobCtx, jobID, progress.PhaseEmbedding, progress.StatusOK, "embedding complete", nil)
		}
	} else {
		degraded = true
		p.emit(jobCtx, jobID, progress.PhaseEmbedding, progress.StatusPartial, "no embedding client configured", nil)
	}

	rec.CrawlDurationSeconds = time.Since(start).Seconds()
	rec.Touch()
	if degraded {
		rec.ScrapeStatus = model.StatusPartial
	} else {
		rec.ScrapeStatus = model.StatusSuccess
	}
	p.emit(jobCtx, jobID, progress.PhaseDone, progress.StatusOK, string(rec.ScrapeStatus), nil)
	return rec
}

// ctxErrCause distinguishes the hard job.timeout_s deadline from an
// external cancel, so scrape_error.kind reports JobTimeout rather than
// Canceled when the deadline set in Run is what fired (§7).
func (p *Pipeline) ctxErrCause(jobCtx context.Context, jobID string) error {
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return &errs.JobTimeout{JobID: jobID}
	}
	return &errs.Canceled{JobID: jobID}
}

func (p *Pipeline) llmPoolOrNil() *llmclient.Pool {
	if !p.cfg.Selection.UseLLM {
		return nil
	}
	return p.llmPool
}

func (p *Pipeline) fail(rec *model.Record, start time.Time, cause error) *model.Record {
	rec.ScrapeStatus = model.StatusFailed
	rec.ScrapeError = &model.ScrapeError{Kind: errs.Kind(cause), Message: cause.Error()}
	rec.CrawlDurationSeconds = time.Since(start).Seconds()
	rec.Touch()
	return rec
}

func (p *Pipeline) emit(ctx context.Context, jobID string, phase progress.Phase, status progress.Status, message string, counters map[string]int) {
	if p.bus == nil {
		return
	}
	p.bus.Emit(ctx, progress.Event{JobID: jobID, Phase: phase, Status: status, Message: message, Counters: counters})
}

// NewJobID generates an opaque job identifier for a new Record.
func NewJobID() string {
	return uuid.NewString()
}
