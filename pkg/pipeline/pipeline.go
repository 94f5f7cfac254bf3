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

// Package pipeline runs the per-document stage machine: each enabled stage
// is gated on the document's current status, bracketed by a transient and a
// terminal status write, and recorded in the document's stage map. Parse
// and summarize failures short-circuit the remaining stages; a tag failure
// only records its error; after a successful index the chunk-tagging pass
// labels the new chunks.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/processor"
)

// ProcessingLogFile is the per-document log artifact written next to the
// parsed files.
const ProcessingLogFile = "processing.log"

// tracerName scopes the spans emitted around documents and stages. They
// stay no-ops unless a tracer provider was installed for the run.
const tracerName = "docpipe/pipeline"

// Options selects the enabled stages and side artifacts for a run. It
// travels to worker processes as part of the init message.
type Options struct {
	Parse      bool `json:"parse"`
	Summarize  bool `json:"summarize"`
	Tag        bool `json:"tag"`
	Index      bool `json:"index"`
	SaveChunks bool `json:"save_chunks"`

	// RunLogPath is the orchestrator's log file; when set, each document
	// gets a processing.log extracted from it after the pipeline run.
	RunLogPath string `json:"run_log_path,omitempty"`
}

// Enabled reports whether a stage runs under these options.
func (o Options) Enabled(stage document.Stage) bool {
	switch stage {
	case document.StageParse:
		return o.Parse
	case document.StageSummarize:
		return o.Summarize
	case document.StageTag:
		return o.Tag
	case document.StageIndex:
		return o.Index
	}
	return false
}

// EnabledStages returns the enabled stages in pipeline order.
func (o Options) EnabledStages() []document.Stage {
	var stages []document.Stage
	for _, s := range document.PipelineStages {
		if o.Enabled(s) {
			stages = append(stages, s)
		}
	}
	return stages
}

// Store is the document surface the stage machine reads and writes.
type Store interface {
	Document(ctx context.Context, id string) (*document.Document, error)
	UpdateDocument(ctx context.Context, id string, fields map[string]any, wait bool) error
}

// Processors is the stage surface of a worker's processor set.
type Processors interface {
	ForStage(stage document.Stage) processor.StageProcessor
	TagNewChunks(ctx context.Context, doc *document.Document) error
}

// Result summarizes one document's trip through the stage machine.
type Result struct {
	// Status is the document's status after the last executed stage.
	Status document.Status

	// Failed reports whether any enabled stage failed.
	Failed bool

	// Elapsed is the wall time of the whole trip in seconds.
	Elapsed float64
}

// Runner executes the stage machine for single documents. One runner is
// built per worker and reused across tasks.
type Runner struct {
	store  Store
	set    Processors
	layout document.Layout
	opts   Options
	logger *slog.Logger
}

// NewRunner builds a stage machine over a store and processor set.
func NewRunner(store Store, set Processors, layout document.Layout, opts Options) *Runner {
	return &Runner{
		store:  store,
		set:    set,
		layout: layout,
		opts:   opts,
		logger: logger.GetLogger().With("component", "pipeline"),
	}
}

// Run drives one document through the enabled stages. The returned error
// marks an infrastructure fault (store unreachable, missing processor);
// stage failures are terminal statuses, not errors.
func (r *Runner) Run(ctx context.Context, doc *document.Document) (Result, error) {
	start := time.Now()
	res := Result{Status: doc.Status}
	log := logger.WithDocument(doc.ID)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("doc_id", doc.ID)))
	defer span.End()

	for _, stage := range document.PipelineStages {
		if !r.opts.Enabled(stage) {
			continue
		}
		if !stage.RunnableFrom(doc.Status) {
			log.Debug("Stage skipped", "stage", stage, "status", doc.Status)
			continue
		}
		proc := r.set.ForStage(stage)
		if proc == nil {
			return res, fmt.Errorf("no processor configured for stage %s", stage)
		}
		tr := stage.Transition()

		if err := r.store.UpdateDocument(ctx, doc.ID, map[string]any{"status": tr.Transient}, false); err != nil {
			return res, fmt.Errorf("failed to write %s status: %w", tr.Transient, err)
		}

		log.Info("Stage started", "stage", stage)
		stageStart := time.Now()
		sctx, stageSpan := otel.Tracer(tracerName).Start(ctx, "stage."+string(stage),
			trace.WithAttributes(attribute.String("doc_id", doc.ID)))
		updates, stageErr := proc.Process(sctx, doc)
		if stageErr != nil {
			stageSpan.RecordError(stageErr)
			stageSpan.SetStatus(codes.Error, stageErr.Error())
		}
		stageSpan.End()
		record := document.StageResult{
			StartedAt:      stageStart,
			ElapsedSeconds: time.Since(stageStart).Seconds(),
			Success:        stageErr == nil,
		}

		fields := make(map[string]any, len(updates)+3)
		for k, v := range updates {
			fields[k] = v
		}
		if stageErr == nil {
			fields["status"] = tr.Success
		} else {
			record.Error = stageErr.Error()
			fields["error_message"] = stageErr.Error()
			if tr.Failure != "" {
				fields["status"] = tr.Failure
			} else {
				// No failure status: revert the transient write.
				fields["status"] = doc.Status
			}
		}
		doc.SetStageRecord(stage, record)
		fields["stages"] = doc.Stages

		if err := r.store.UpdateDocument(ctx, doc.ID, fields, true); err != nil {
			return res, fmt.Errorf("failed to write %s result: %w", stage, err)
		}

		if stageErr != nil {
			res.Failed = true
			if tr.Failure != "" {
				res.Status = tr.Failure
			}
			log.Warn("Stage failed", "stage", stage, "error", stageErr)
			if stage == document.StageParse || stage == document.StageSummarize {
				break
			}
		} else {
			res.Status = tr.Success
			log.Info("Stage finished", "stage", stage,
				"elapsed_seconds", fmt.Sprintf("%.1f", record.ElapsedSeconds))
		}

		// Reload so the next stage sees persisted side effects, not the
		// in-memory record.
		fresh, err := r.store.Document(ctx, doc.ID)
		if err != nil {
			return res, fmt.Errorf("failed to reload document: %w", err)
		}
		doc = fresh

		if stage == document.StageIndex && stageErr == nil && r.opts.Tag {
			r.tagChunks(ctx, doc)
		}
	}

	res.Elapsed = time.Since(start).Seconds()
	if err := r.store.UpdateDocument(ctx, doc.ID, map[string]any{"pipeline_elapsed_seconds": res.Elapsed}, false); err != nil {
		log.Warn("Failed to record pipeline elapsed time", "error", err)
	}
	r.extractLog(doc)
	return res, nil
}

// tagChunks runs the post-index chunk-tagging pass. Its failure is logged
// and never alters the index stage's outcome.
func (r *Runner) tagChunks(ctx context.Context, doc *document.Document) {
	if err := r.set.TagNewChunks(ctx, doc); err != nil {
		r.logger.Warn("Chunk tagging pass failed", "document_id", doc.ID, "error", err)
	}
}

// extractLog pulls this document's lines out of the run log into the
// parsed folder.
func (r *Runner) extractLog(doc *document.Document) {
	if r.opts.RunLogPath == "" || doc.ParsedFolder == "" {
		return
	}
	outPath := filepath.Join(r.layout.ParsedFolder(doc), ProcessingLogFile)
	lines, err := logger.ExtractDocumentLog(r.opts.RunLogPath, doc.ID, outPath)
	if err != nil {
		r.logger.Debug("Processing log extraction failed", "document_id", doc.ID, "error", err)
		return
	}
	r.logger.Debug("Extracted processing log", "document_id", doc.ID, "lines", lines)
}
