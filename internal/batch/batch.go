// Package batch implements the Batch Supervisor (C11): runs N
// extraction pipelines concurrently over a shared resource pool, with
// a consecutive-failure circuit breaker and aggregate progress events.
package batch

import (
	"context"
	"sync"
	"time"

	"bizintel/internal/config"
	"bizintel/internal/model"
	"bizintel/internal/pipeline"
	"bizintel/internal/progress"
)

// Item is one indexed company to extract.
type Item struct {
	Index int
	Input pipeline.Input
}

// Result is one completed job, tagged with its original input index so
// callers can reorder (§4.11: results delivered in completion order).
type Result struct {
	Index  int
	JobID  string
	Record *model.Record
}

// Summary is the final aggregate emitted once every item has completed
// or the circuit breaker has tripped.
type Summary struct {
	Total         int
	Success       int
	Partial       int
	Failed        int
	DurationS     float64
	AggregateCost float64
	BreakerTripped bool
}

// Supervisor runs a batch of pipelines sharing one Pipeline instance
// (and, through it, one browser and one LLM pool).
type Supervisor struct {
	pl  *pipeline.Pipeline
	bus *progress.Bus
	cfg config.BatchConfig
}

// New constructs a Supervisor.
func New(pl *pipeline.Pipeline, bus *progress.Bus, cfg config.BatchConfig) *Supervisor {
	return &Supervisor{pl: pl, bus: bus, cfg: cfg}
}

// Run extracts every item concurrently, bounded by cfg.Concurrency, and
// streams Results to the returned channel in completion order. The
// channel is closed once the batch finishes, either because every item
// completed or because the consecutive-failure circuit breaker tripped.
func (s *Supervisor) Run(ctx context.Context, batchJobID string, items []Item) (<-chan Result, <-chan Summary) {
	resultsCh := make(chan Result, len(items))
	summaryCh := make(chan Summary, 1)

	concurrency := s.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	failLimit := s.cfg.ConsecutiveFailLimit
	if failLimit <= 0 {
		failLimit = 3
	}
	progressEvery := s.cfg.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = 5
	}

	go func() {
		defer close(resultsCh)
		defer close(summaryCh)

		start := time.Now()
		sem := make(chan struct{}, concurrency)
		runCtx, stop := context.WithCancel(ctx)
		defer stop()

		var mu sync.Mutex
		var wg sync.WaitGroup
		consecutiveFails := 0
		breakerTripped := false
		completed := 0
		var summary Summary
		summary.Total = len(items)

	admit:
		for _, item := range items {
			item := item

			mu.Lock()
			tripped := breakerTripped
			mu.Unlock()
			if tripped {
				break
			}

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				break admit
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				jobID := pipeline.NewJobID()
				rec := s.pl.Run(runCtx, jobID, item.Input)
				resultsCh <- Result{Index: item.Index, JobID: jobID, Record: rec}

				mu.Lock()
				defer mu.Unlock()

				switch rec.ScrapeStatus {
				case model.StatusSuccess:
					summary.Success++
					consecutiveFails = 0
				case model.StatusPartial:
					summary.Partial++
					consecutiveFails = 0
				default:
					summary.Failed++
					// Canceled (external cancel) is exempt from the
					// consecutive-failure breaker; JobTimeout and every
					// other failure kind counts toward it (§7).
					if rec.ScrapeError == nil || rec.ScrapeError.Kind != "Canceled" {
						consecutiveFails++
					}
				}
				summary.AggregateCost += rec.TotalCostUSD
				completed++

				if completed%progressEvery == 0 {
					s.emitBatch(ctx, batchJobID, progress.StatusInfo, completed, len(items))
				}

				if consecutiveFails >= failLimit && !breakerTripped {
					breakerTripped = true
					s.emitBatch(ctx, batchJobID, progress.StatusFailed, completed, len(items))
					stop()
				}
			}()
		}

		wg.Wait()

		mu.Lock()
		summary.DurationS = time.Since(start).Seconds()
		summary.BreakerTripped = breakerTripped
		finalSummary := summary
		mu.Unlock()

		s.emitBatch(ctx, batchJobID, progress.StatusOK, finalSummary.Success+finalSummary.Partial+finalSummary.Failed, len(items))
		summaryCh <- finalSummary
	}()

	return resultsCh, summaryCh
}

func (s *Supervisor) emitBatch(ctx context.Context, batchJobID string, status progress.Status, completed, total int) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(ctx, progress.Event{
		JobID:    batchJobID,
		Phase:    progress.PhaseBatch,
		Status:   status,
		Counters: map[string]int{"completed": completed, "total": total},
	})
}
