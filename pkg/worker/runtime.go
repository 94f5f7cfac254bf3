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

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/kadirpekel/docpipe/pkg/chunker"
	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/embedder"
	"github.com/kadirpekel/docpipe/pkg/llm"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/pipeline"
	"github.com/kadirpekel/docpipe/pkg/processor"
	"github.com/kadirpekel/docpipe/pkg/store"
	"github.com/kadirpekel/docpipe/pkg/tokens"
)

// Runtime is one worker's execution context: thread caps applied, store
// connected, processors instantiated exactly once, then reused for every
// task of the worker's lifetime.
type Runtime struct {
	store  *store.Store
	dbPool *store.DBPool
	runner *pipeline.Runner
	guard  *MemoryGuard
	logger *slog.Logger
}

// NewRuntime initializes a worker for one source. Only the processors the
// enabled stages need are built, so a parse-only run never dials a model
// backend.
func NewRuntime(ctx context.Context, cfg *config.Config, source string, opts pipeline.Options) (*Runtime, error) {
	applyThreadCaps()

	src, err := cfg.Source(source)
	if err != nil {
		return nil, err
	}

	dbPool := store.NewDBPool()
	st, err := store.New(ctx, source, src, dbPool, cfg.Embedding.Dimension)
	if err != nil {
		dbPool.Close()
		return nil, err
	}

	layout := document.NewLayout(filepath.Join(config.DataMountPath(), source))
	set, err := buildProcessors(cfg, st, layout, opts)
	if err != nil {
		st.Close()
		dbPool.Close()
		return nil, err
	}

	return &Runtime{
		store:  st,
		dbPool: dbPool,
		runner: pipeline.NewRunner(st, set, layout, opts),
		guard:  NewMemoryGuard(&cfg.Pipeline),
		logger: logger.GetLogger().With("component", "worker"),
	}, nil
}

// buildProcessors assembles the processor set for the enabled stages.
func buildProcessors(cfg *config.Config, st *store.Store, layout document.Layout, opts pipeline.Options) (*processor.Set, error) {
	set := &processor.Set{}

	var client llm.Client
	if opts.Summarize || (opts.Tag && cfg.Pipeline.ChunkTagger == config.ChunkTaggerLLM) {
		c, err := llm.NewClient(&cfg.LLM)
		if err != nil {
			if opts.Summarize {
				return nil, fmt.Errorf("summarize stage needs a chat model: %w", err)
			}
			// The tagger downgrades itself to keyword classification
			// when no model is available.
		} else {
			client = c
		}
	}

	var counter *tokens.Counter
	if opts.Summarize || opts.Index {
		c, err := tokens.NewCounter(cfg.Embedding.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to build token counter: %w", err)
		}
		counter = c
	}

	if opts.Parse {
		set.Parser = processor.NewParser(layout, &cfg.Pipeline)
	}
	if opts.Summarize {
		set.Summarizer = processor.NewSummarizer(layout, client, counter)
	}
	if opts.Tag {
		set.Tagger = processor.NewTagger(&cfg.Pipeline, st, client)
	}
	if opts.Index {
		url := cfg.Embedding.URL
		if url == "" {
			url = config.EmbeddingAPIURL()
		}
		emb, err := embedder.NewHTTP(url, &cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("index stage needs an embedding server: %w", err)
		}
		ch := chunker.New(counter, cfg.Pipeline.MaxTokens)
		set.Indexer = processor.NewIndexer(layout, ch, emb, st, opts.SaveChunks)
	}

	return set, nil
}

// applyThreadCaps pins numerical libraries to a single thread each, so W
// workers do not oversubscribe the CPU. Worker subprocesses (LibreOffice,
// local embedding server) inherit the caps.
func applyThreadCaps() {
	for _, entry := range config.ThreadCapEnv() {
		if k, v, ok := strings.Cut(entry, "="); ok {
			os.Setenv(k, v)
		}
	}
}

// RunTask drives one document through the stage machine behind the memory
// guard. Anything that prevents the stage machine from concluding comes
// back as an in-band error on the result, so the protocol always answers.
func (rt *Runtime) RunTask(ctx context.Context, doc *document.Document) (res Result) {
	res.DocID = doc.ID
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("Task panicked",
				"document_id", doc.ID, "panic", r, "stack", string(debug.Stack()))
			res.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if err := rt.guard.Wait(ctx); err != nil {
		res.Error = err.Error()
		return res
	}

	out, err := rt.runner.Run(ctx, doc)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Status = out.Status
	res.Failed = out.Failed
	res.ElapsedSeconds = out.Elapsed
	return res
}

// Close releases the store handles.
func (rt *Runtime) Close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("Failed to close store", "error", err)
	}
	if err := rt.dbPool.Close(); err != nil {
		rt.logger.Warn("Failed to close database pool", "error", err)
	}
}
