// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package orchestrator drives one pipeline run end to end: clear the
// store when asked, invoke the downloader, scan the filesystem, select
// eligible documents, dispatch them to the worker pool, and reconcile
// every outcome through the fault supervisor. The orchestrator itself is
// single-threaded; all parallelism lives in the pool.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/downloader"
	"github.com/kadirpekel/docpipe/pkg/embedder"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/observability"
	"github.com/kadirpekel/docpipe/pkg/pipeline"
	"github.com/kadirpekel/docpipe/pkg/scanner"
	"github.com/kadirpekel/docpipe/pkg/selector"
	"github.com/kadirpekel/docpipe/pkg/store"
	"github.com/kadirpekel/docpipe/pkg/worker"
)

// Options shapes one run.
type Options struct {
	// Source names the data source to process.
	Source string

	// NumRecords caps the selection; 0 means everything eligible.
	NumRecords int

	// Workers overrides the configured pool width when positive.
	Workers int

	// ModelMode overrides the configured embedding mode when set.
	ModelMode string

	Skip        selector.Skip
	Filters     selector.Filters
	RecentFirst bool
	Partition   *selector.Partition

	// SaveChunks writes chunk JSON next to the parsed artifacts.
	SaveChunks bool

	// ClearDB wipes the source's documents and chunks before anything
	// else runs.
	ClearDB bool

	// RunLogPath is the orchestrator's log file; workers append to it and
	// per-document processing logs are extracted from it.
	RunLogPath string

	// LogSettings configure logging in worker child processes.
	LogSettings worker.LogSettings
}

// Stats totals one run. A document counts as failed when any stage
// failed or the supervisor had to stop it.
type Stats struct {
	Selected       int
	Succeeded      int
	Failed         int
	Stopped        int
	ElapsedSeconds float64
}

// Success reports whether the run finished with zero failed documents.
func (s Stats) Success() bool {
	return s.Failed == 0
}

// Orchestrator runs the pipeline for one data source.
type Orchestrator struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	// newPool is swapped in tests.
	newPool func(cfg *config.Config, source string, opts pipeline.Options, logCfg worker.LogSettings) (worker.Pool, error)
}

// New builds an orchestrator. Overrides in opts are applied onto cfg.
func New(cfg *config.Config, opts Options) *Orchestrator {
	if opts.Workers > 0 {
		cfg.Pipeline.Workers = opts.Workers
	}
	if opts.ModelMode != "" {
		cfg.Embedding.Mode = opts.ModelMode
	}
	return &Orchestrator{
		cfg:     cfg,
		opts:    opts,
		logger:  logger.GetLogger().With("component", "orchestrator"),
		newPool: worker.NewPool,
	}
}

// Run executes the whole flow and returns the run statistics. The error
// marks an infrastructure fault that aborted the run; per-document
// failures only show up in the stats.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	srcCfg, err := o.cfg.Source(o.opts.Source)
	if err != nil {
		return stats, err
	}
	layout := document.NewLayout(filepath.Join(config.DataMountPath(), o.opts.Source))

	obs := observability.New(&o.cfg.Observability, o.opts.Source)
	if err := obs.Start(ctx); err != nil {
		return stats, fmt.Errorf("failed to start observability: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(sctx); err != nil {
			o.logger.Warn("Observability shutdown failed", "error", err)
		}
	}()
	metrics := obs.Metrics()

	pool := store.NewDBPool()
	defer func() {
		if err := pool.Close(); err != nil {
			o.logger.Warn("Failed to close database pool", "error", err)
		}
	}()
	st, err := store.New(ctx, o.opts.Source, srcCfg, pool, o.cfg.Embedding.Dimension)
	if err != nil {
		return stats, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			o.logger.Warn("Failed to close store", "error", err)
		}
	}()

	if o.opts.ClearDB {
		if err := st.ClearAll(ctx); err != nil {
			return stats, fmt.Errorf("failed to clear store: %w", err)
		}
		o.logger.Info("Cleared all data", "source", o.opts.Source)
	}

	if !o.opts.Skip.Download {
		if err := o.download(ctx, srcCfg, layout); err != nil {
			return stats, err
		}
	}

	if !o.opts.Skip.Scan {
		if _, err := scanner.New(o.opts.Source, layout, st).Scan(ctx); err != nil {
			return stats, err
		}
	}

	docs, err := selector.New(st).Select(ctx, selector.Options{
		Skip:        o.opts.Skip,
		Filters:     o.opts.Filters,
		RecentFirst: o.opts.RecentFirst,
		Partition:   o.opts.Partition,
		Limit:       o.opts.NumRecords,
	})
	if err != nil {
		return stats, err
	}
	stats.Selected = len(docs)
	metrics.AddSelected(ctx, len(docs))

	if len(docs) == 0 {
		o.logger.Info("Nothing to process", "source", o.opts.Source)
		stats.ElapsedSeconds = time.Since(start).Seconds()
		return stats, nil
	}

	// The embedding endpoint is resolved before workers spawn so child
	// processes inherit it through the environment.
	servers := embedder.NewServerManager(&o.cfg.Embedding)
	url, err := servers.Resolve(ctx, !o.opts.Skip.Index)
	if err != nil {
		return stats, err
	}
	defer servers.Shutdown()
	if url != "" {
		os.Setenv(config.EnvEmbeddingAPIURL, url)
	}

	popts := pipeline.Options{
		Parse:      !o.opts.Skip.Parse,
		Summarize:  !o.opts.Skip.Summarize,
		Tag:        !o.opts.Skip.Tag,
		Index:      !o.opts.Skip.Index,
		SaveChunks: o.opts.SaveChunks,
		RunLogPath: o.opts.RunLogPath,
	}
	workers, err := o.newPool(o.cfg, o.opts.Source, popts, o.opts.LogSettings)
	if err != nil {
		return stats, err
	}
	supervisor := worker.NewSupervisor(st)

	o.logger.Info("Processing documents",
		"source", o.opts.Source,
		"count", len(docs),
		"workers", o.cfg.Pipeline.Workers,
		"stages", popts.EnabledStages())
	metrics.AddInFlight(ctx, len(docs))

	for out := range workers.Run(ctx, docs) {
		metrics.AddInFlight(ctx, -1)
		failed := supervisor.Record(ctx, out)

		status := document.StatusStopped
		var elapsed float64
		if out.Result != nil {
			status = out.Result.Status
			elapsed = out.Result.ElapsedSeconds
		}
		if out.Class != worker.OutcomeClean {
			stats.Stopped++
			metrics.RecordFault(ctx, out.Class.String())
		}
		metrics.RecordDocument(ctx, status, elapsed)

		if failed {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
		o.logger.Info("Document concluded",
			"doc_id", out.Doc.ID,
			"status", status,
			"outcome", out.Class.String(),
			"failed", failed)
	}

	stats.ElapsedSeconds = time.Since(start).Seconds()
	o.logger.Info("Run complete",
		"source", o.opts.Source,
		"selected", stats.Selected,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"stopped", stats.Stopped,
		"elapsed_seconds", fmt.Sprintf("%.1f", stats.ElapsedSeconds))
	return stats, nil
}

// download runs the source's downloader script. A source without one
// cannot run the download step.
func (o *Orchestrator) download(ctx context.Context, srcCfg *config.SourceConfig, layout document.Layout) error {
	if srcCfg.Downloader == nil {
		return fmt.Errorf("source %q has no downloader configured", o.opts.Source)
	}
	return downloader.New(srcCfg.Downloader).Run(ctx, downloader.Params{
		DataDir:    layout.Root(),
		NumRecords: o.opts.NumRecords,
		Year:       o.opts.Filters.Year,
		FromYear:   o.opts.Filters.FromYear,
		ToYear:     o.opts.Filters.ToYear,
		Agency:     o.opts.Filters.Agency,
		Report:     o.opts.Filters.Report,
		DocID:      o.opts.Filters.DocID,
	})
}
