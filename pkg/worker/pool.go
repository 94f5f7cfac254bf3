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

// Package worker runs the per-document pipeline across a pool of workers:
// in the orchestrator process when the worker count is 1, and as isolated
// child processes speaking a line-delimited JSON protocol on stdin/stdout
// when it is larger. The pool enforces per-task deadlines, recycles each
// worker after a fixed number of tasks to bound memory growth, and
// classifies every task's outcome so the supervisor can reconcile the
// store.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/pipeline"
)

// Pool dispatches documents to workers and streams back one outcome per
// dispatched document. The channel closes when all outcomes are in;
// cancellation stops dispatching, leaving the remaining documents
// untouched.
type Pool interface {
	Run(ctx context.Context, docs []*document.Document) <-chan Outcome
}

// NewPool builds the pool shape the configuration asks for.
func NewPool(cfg *config.Config, source string, opts pipeline.Options, logCfg LogSettings) (Pool, error) {
	if cfg.Pipeline.Workers <= 1 {
		return newInlinePool(cfg, source, opts), nil
	}
	return newProcessPool(cfg, source, opts, logCfg)
}

// taskRunner is the slice of Runtime the pools drive.
type taskRunner interface {
	RunTask(ctx context.Context, doc *document.Document) Result
	Close()
}

// inlinePool runs tasks sequentially in the orchestrator process. Used
// when the worker count is 1, where process isolation buys nothing but
// startup cost. Recycling still rebuilds the runtime on schedule.
type inlinePool struct {
	cfg     *config.Config
	source  string
	opts    pipeline.Options
	timeout time.Duration
	recycle int
	logger  *slog.Logger

	// Swapped in tests.
	newRuntime func(ctx context.Context) (taskRunner, error)
}

func newInlinePool(cfg *config.Config, source string, opts pipeline.Options) *inlinePool {
	return &inlinePool{
		cfg:     cfg,
		source:  source,
		opts:    opts,
		timeout: cfg.Pipeline.TaskTimeout,
		recycle: cfg.Pipeline.TasksPerWorker,
		logger:  logger.GetLogger().With("component", "pool"),
		newRuntime: func(ctx context.Context) (taskRunner, error) {
			rt, err := NewRuntime(ctx, cfg, source, opts)
			if err != nil {
				return nil, err
			}
			return rt, nil
		},
	}
}

func (p *inlinePool) Run(ctx context.Context, docs []*document.Document) <-chan Outcome {
	out := make(chan Outcome)
	go func() {
		defer close(out)

		var rt taskRunner
		served := 0
		defer func() {
			if rt != nil {
				rt.Close()
			}
		}()

		for _, doc := range docs {
			if ctx.Err() != nil {
				return
			}
			if rt == nil {
				r, err := p.newRuntime(ctx)
				if err != nil {
					p.logger.Error("Worker initialization failed", "error", err)
					out <- Outcome{Doc: doc, Class: OutcomeCrash,
						Detail: "worker initialization failed: " + err.Error()}
					continue
				}
				rt = r
				served = 0
			}

			o := p.runOne(ctx, rt, doc)
			out <- o

			if o.Class == OutcomeTimeout {
				// The abandoned task goroutine may still hold the
				// runtime; drop the reference rather than closing
				// handles under it. Its context is already canceled.
				rt = nil
				continue
			}
			served++
			if served >= p.recycle {
				rt.Close()
				rt = nil
			}
		}
	}()
	return out
}

// runOne executes a single task under the task deadline. A timeout
// abandons the task; its canceled context stops pending store writes.
func (p *inlinePool) runOne(ctx context.Context, rt taskRunner, doc *document.Document) Outcome {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- rt.RunTask(tctx, doc) }()

	select {
	case res := <-done:
		return classify(doc, res)
	case <-tctx.Done():
		p.logger.Warn("Task deadline exceeded",
			"document_id", doc.ID, "timeout", p.timeout)
		return Outcome{Doc: doc, Class: OutcomeTimeout}
	}
}
