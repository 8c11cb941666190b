// Command protofold runs the structure-prediction pipeline as a batch
// task: it reads query sequences from FASTA files, folds them against the
// configured index, and writes ranked PDB structures plus a JSON job
// record per query.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "go.uber.org/automaxprocs"

	"github.com/okian/protofold/internal/adapters/http/metricsd"
	app "github.com/okian/protofold/internal/app"
	"github.com/okian/protofold/internal/config"
	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/internal/domain/types"
	"github.com/okian/protofold/internal/encoding/pdbio"
	"github.com/okian/protofold/internal/pipeline"
	"github.com/okian/protofold/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Disable default Go metrics collection to avoid duplicate metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM. A signal cancels running
	// jobs at their next stage boundary.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] query.fasta [more.fasta...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	// Load configuration (defaults -> optional file -> env).
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	queries, err := readQueries(flag.Args())
	if err != nil {
		log.Error(ctx, "reading queries failed", logger.Error(err))
		return 1
	}
	if len(queries) == 0 {
		log.Error(ctx, "no query sequences found in input")
		return 1
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Error(ctx, "creating output directory failed", logger.Error(err))
		return 1
	}

	svc := app.New(
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithIndexDir(cfg.IndexDir),
		app.WithScratchDir(cfg.ScratchDir),
		app.WithGPUDeviceBytes(cfg.GPUDeviceBytes),
		app.WithAdmitMaxWait(time.Duration(cfg.GPUAdmitMaxWaitMS)*time.Millisecond),
		app.WithMSAPolicy(cfg.MinCoverage, cfg.MaxMSARows),
		app.WithStageBudgets(pipeline.StageBudgets{
			Search: time.Duration(cfg.SearchTimeoutMS) * time.Millisecond,
			Align:  time.Duration(cfg.AlignTimeoutMS) * time.Millisecond,
			Infer:  time.Duration(cfg.InferTimeoutMS) * time.Millisecond,
			Relax:  time.Duration(cfg.RelaxTimeoutMS) * time.Millisecond,
		}),
	)
	if err := svc.Start(ctx); err != nil {
		// A wrong-version index is a startup failure, never a per-job one.
		log.Error(ctx, "failed to start service", logger.Error(err))
		return 1
	}
	defer svc.Stop()

	if cfg.MetricsAddr != "" {
		msrv := metricsd.New(cfg.MetricsAddr, svc)
		msrv.Start(ctx)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = msrv.Stop(sctx)
		}()
	}

	defaults := model.Options{
		MaxHits:            cfg.MaxHits,
		Sensitivity:        model.Sensitivity(cfg.Sensitivity),
		EnsembleSize:       cfg.EnsembleSize,
		TopK:               cfg.TopK,
		RelaxMaxIterations: cfg.RelaxMaxIterations,
		GPUMemoryFraction:  cfg.GPUMemoryFraction,
	}

	// Submit everything up front; workers fold queries concurrently.
	jobIDs := make(map[string]model.Query, len(queries))
	exitCode := 0
	for _, q := range queries {
		jobID, err := svc.Submit(ctx, q, defaults)
		if err != nil {
			log.Error(ctx, "submission rejected",
				logger.String("queryID", q.ID), logger.Error(err))
			exitCode = 1
			continue
		}
		if _, dup := jobIDs[jobID]; dup {
			log.Info(ctx, "duplicate query folded once",
				logger.String("queryID", q.ID), logger.String("jobID", jobID))
			continue
		}
		jobIDs[jobID] = q
	}

	for jobID, q := range jobIDs {
		result, err := svc.Await(ctx, jobID)
		if err != nil {
			log.Error(ctx, "awaiting job failed",
				logger.String("jobID", jobID), logger.Error(err))
			exitCode = 1
			continue
		}
		if err := writeResult(cfg.OutputDir, q, jobID, result); err != nil {
			log.Error(ctx, "writing result failed",
				logger.String("jobID", jobID), logger.Error(err))
			exitCode = 1
			continue
		}
		if result.Record.Status == model.StatusFailed {
			exitCode = 1
		}
		log.Info(ctx, "job finished",
			logger.String("jobID", jobID),
			logger.String("queryID", q.ID),
			logger.String("status", string(result.Record.Status)),
			logger.Int("artifacts", len(result.Artifacts)),
		)
	}

	return exitCode
}

// writeResult writes one PDB file per ranked artifact plus the JSON job
// record next to them.
func writeResult(outDir string, q model.Query, jobID string, result types.JobResult) error {
	for _, artifact := range result.Artifacts {
		path := filepath.Join(outDir, pdbio.Filename(jobID, artifact.Rank))
		if err := pdbio.WriteFile(path, q.Sequence, artifact); err != nil {
			return err
		}
	}

	recordPath := filepath.Join(outDir, jobID+".json")
	f, err := os.Create(recordPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", recordPath, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		f.Close()
		return fmt.Errorf("encoding job record: %w", err)
	}
	return f.Close()
}
