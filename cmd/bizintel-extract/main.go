// Command bizintel-extract is the CLI wrapper around the extraction
// core: extract_one for a single company, extract_batch for a
// newline-delimited JSON input file, or serve to run the ambient ops
// HTTP surface. It owns nothing the core depends on — config loading,
// signal handling, and exit-code mapping live here, not in
// internal/pipeline or internal/batch.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bizintel/internal/batch"
	"bizintel/internal/config"
	"bizintel/internal/httpapi"
	"bizintel/internal/migrate"
	"bizintel/internal/model"
	"bizintel/internal/pipeline"
	"bizintel/internal/runtime"
	"bizintel/internal/store"
)

// Exit codes per the external-interfaces contract: 0 success/partial,
// 1 failed, 2 configuration error, 130 cancel.
const (
	exitOK        = 0
	exitFailed    = 1
	exitConfigErr = 2
	exitCanceled  = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	mode := flag.String("mode", "serve", "serve | extract | batch")
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	name := flag.String("name", "", "company name (extract mode)")
	website := flag.String("website", "", "company website (extract mode)")
	inputPath := flag.String("input", "", "path to newline-delimited JSON {name,website} input (batch mode)")
	outputPath := flag.String("output", "", "path to write results as newline-delimited JSON (batch mode); defaults to stdout")
	noPersist := flag.Bool("no-persist", false, "skip Postgres persistence even if database.dsn is configured")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		return exitConfigErr
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return exitConfigErr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("build runtime", "error", err)
		return exitConfigErr
	}
	defer rt.Close()

	var st *store.Store
	if cfg.Database.DSN != "" && !*noPersist {
		if err := migrate.Run(cfg.Database.DSN); err != nil {
			logger.Error("run migrations", "error", err)
			return exitConfigErr
		}
		st, err = store.Open(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Error("open store", "error", err)
			return exitConfigErr
		}
		defer st.Close()
	}

	switch *mode {
	case "serve":
		return runServe(rt, st, cfg, logger)
	case "extract":
		return runExtractOne(ctx, rt, st, logger, *name, *website)
	case "batch":
		return runExtractBatch(ctx, rt, st, logger, *inputPath, *outputPath)
	default:
		logger.Error("unknown mode", "mode", *mode)
		return exitConfigErr
	}
}

func runServe(rt *runtime.Runtime, st *store.Store, cfg *config.Config, logger *slog.Logger) int {
	srv := httpapi.NewServer(rt, st)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := srv.Listen(addr); err != nil {
		logger.Error("http server exited", "error", err)
		return exitFailed
	}
	return exitOK
}

func runExtractOne(ctx context.Context, rt *runtime.Runtime, st *store.Store, logger *slog.Logger, name, website string) int {
	if name == "" || website == "" {
		logger.Error("extract mode requires -name and -website")
		return exitConfigErr
	}

	jobID := pipeline.NewJobID()
	rec := rt.Pipeline.Run(ctx, jobID, pipeline.Input{Name: name, Website: website})

	if st != nil {
		if err := st.Save(ctx, rec); err != nil {
			logger.Warn("persist record failed", "job_id", jobID, "error", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		logger.Error("encode record", "error", err)
		return exitFailed
	}

	return exitForRecord(ctx, rec)
}

func runExtractBatch(ctx context.Context, rt *runtime.Runtime, st *store.Store, logger *slog.Logger, inputPath, outputPath string) int {
	if inputPath == "" {
		logger.Error("batch mode requires -input")
		return exitConfigErr
	}

	items, err := readBatchInput(inputPath)
	if err != nil {
		logger.Error("read batch input", "error", err)
		return exitConfigErr
	}
	if len(items) == 0 {
		logger.Error("batch input is empty")
		return exitConfigErr
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			logger.Error("create output file", "error", err)
			return exitConfigErr
		}
		defer f.Close()
		out = f
	}

	batchJobID := pipeline.NewJobID()
	resultsCh, summaryCh := rt.Batch.Run(ctx, batchJobID, items)

	enc := json.NewEncoder(out)
	results := make([]batch.Result, 0, len(items))
	for r := range resultsCh {
		results = append(results, r)
		if st != nil {
			if err := st.Save(ctx, r.Record); err != nil {
				logger.Warn("persist record failed", "job_id", r.JobID, "error", err)
			}
		}
		if err := enc.Encode(r.Record); err != nil {
			logger.Error("encode record", "error", err)
		}
	}
	summary := <-summaryCh

	logger.Info("batch complete",
		"total", summary.Total,
		"success", summary.Success,
		"partial", summary.Partial,
		"failed", summary.Failed,
		"duration_s", summary.DurationS,
		"aggregate_cost_usd", summary.AggregateCost,
		"breaker_tripped", summary.BreakerTripped,
	)

	if ctx.Err() != nil {
		return exitCanceled
	}
	if summary.Failed > 0 {
		return exitFailed
	}
	return exitOK
}

type batchInputLine struct {
	Name    string `json:"name"`
	Website string `json:"website"`
}

func readBatchInput(path string) ([]batch.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var items []batch.Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	idx := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var in batchInputLine
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", idx+1, err)
		}
		items = append(items, batch.Item{Index: idx, Input: pipeline.Input{Name: in.Name, Website: in.Website}})
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return items, nil
}

func exitForRecord(ctx context.Context, rec *model.Record) int {
	if ctx.Err() != nil {
		return exitCanceled
	}
	switch rec.ScrapeStatus {
	case model.StatusFailed:
		return exitFailed
	default:
		return exitOK
	}
}
