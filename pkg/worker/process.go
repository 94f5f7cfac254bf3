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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/pipeline"
)

// workerProcTitle is argv[0] of worker children, so ps tells them apart
// from the orchestrator.
const workerProcTitle = "docpipe-worker"

// workerExitGrace bounds how long a retiring worker gets to exit after
// its stdin closes before it is killed.
const workerExitGrace = 10 * time.Second

// processPool fans tasks out to isolated child processes, each running
// the stage machine behind the stdio protocol. Children share no memory
// with the orchestrator, so a worker lost to the kernel OOM killer takes
// only its own task down with it.
type processPool struct {
	cfg     *config.Config
	source  string
	opts    pipeline.Options
	logCfg  LogSettings
	exe     string
	workers int
	timeout time.Duration
	recycle int
	logger  *slog.Logger
}

func newProcessPool(cfg *config.Config, source string, opts pipeline.Options, logCfg LogSettings) (*processPool, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate own binary for worker re-exec: %w", err)
	}
	return &processPool{
		cfg:     cfg,
		source:  source,
		opts:    opts,
		logCfg:  logCfg,
		exe:     exe,
		workers: cfg.Pipeline.Workers,
		timeout: cfg.Pipeline.TaskTimeout,
		recycle: cfg.Pipeline.TasksPerWorker,
		logger:  logger.GetLogger().With("component", "pool"),
	}, nil
}

func (p *processPool) Run(ctx context.Context, docs []*document.Document) <-chan Outcome {
	tasks := make(chan *document.Document)
	out := make(chan Outcome)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.workerLoop(ctx, slot, tasks, out)
		}(i)
	}

	go func() {
		defer close(tasks)
		for _, doc := range docs {
			select {
			case tasks <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// workerLoop owns one pool slot: it keeps a live child, feeds it tasks,
// and replaces it after a timeout, a crash, or the recycle threshold.
func (p *processPool) workerLoop(ctx context.Context, slot int, tasks <-chan *document.Document, out chan<- Outcome) {
	var w *childWorker
	defer func() {
		if w != nil {
			w.shutdown()
		}
	}()

	for doc := range tasks {
		if w == nil {
			cw, err := p.spawn(slot)
			if err != nil {
				p.logger.Error("Failed to start worker", "slot", slot, "error", err)
				out <- Outcome{Doc: doc, Class: OutcomeCrash,
					Detail: "failed to start worker: " + err.Error()}
				continue
			}
			w = cw
		}

		o := p.dispatch(ctx, w, doc)
		out <- o

		switch o.Class {
		case OutcomeTimeout, OutcomeCrash:
			w.kill()
			w = nil
		default:
			w.served++
			if w.served >= p.recycle {
				w.shutdown()
				w = nil
			}
		}
	}
}

// dispatch sends one task and waits for its result under the task
// deadline.
func (p *processPool) dispatch(ctx context.Context, w *childWorker, doc *document.Document) Outcome {
	if err := w.send(Task{Doc: doc}); err != nil {
		return Outcome{Doc: doc, Class: OutcomeCrash, Detail: w.exitDetail(err)}
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case m := <-w.reads:
		if m.err != nil {
			return Outcome{Doc: doc, Class: OutcomeCrash, Detail: w.exitDetail(m.err)}
		}
		return classify(doc, *m.res)
	case <-timer.C:
		p.logger.Warn("Task deadline exceeded",
			"document_id", doc.ID, "slot", w.slot, "timeout", p.timeout)
		return Outcome{Doc: doc, Class: OutcomeTimeout}
	case <-ctx.Done():
		return Outcome{Doc: doc, Class: OutcomeTimeout}
	}
}

// spawn starts one worker child and hands it the init message.
func (p *processPool) spawn(slot int) (*childWorker, error) {
	cmd := exec.Command(p.exe, "worker")
	cmd.Args[0] = workerProcTitle
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	w := &childWorker{
		slot:   slot,
		cmd:    cmd,
		stdin:  stdin,
		enc:    json.NewEncoder(stdin),
		reads:  make(chan readMsg, 2),
		logger: p.logger,
	}
	go w.readLoop(stdout)

	init := initMessage{Config: p.cfg, Source: p.source, Options: p.opts, Logging: p.logCfg}
	if err := w.enc.Encode(init); err != nil {
		w.kill()
		return nil, fmt.Errorf("failed to send init message: %w", err)
	}

	p.logger.Info("Worker started", "slot", slot, "pid", cmd.Process.Pid)
	return w, nil
}

type readMsg struct {
	res *Result
	err error
}

// childWorker is one live worker subprocess with its protocol channels.
// It is owned by a single workerLoop goroutine.
type childWorker struct {
	slot    int
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	enc     *json.Encoder
	reads   chan readMsg
	served  int
	reaped  bool
	waitErr error
	logger  *slog.Logger
}

// readLoop decodes results off the worker's stdout until the stream
// breaks. The reads channel is buffered for a late result plus the
// terminal error, so the loop never blocks after its task timed out.
func (w *childWorker) readLoop(stdout io.Reader) {
	dec := json.NewDecoder(stdout)
	for {
		var res Result
		if err := dec.Decode(&res); err != nil {
			w.reads <- readMsg{err: err}
			return
		}
		w.reads <- readMsg{res: &res}
	}
}

func (w *childWorker) send(task Task) error {
	return w.enc.Encode(task)
}

// exitDetail reaps the worker and renders the most precise loss reason
// available: the exit state (e.g. "signal: killed" after the OOM killer)
// when the process died, the protocol error otherwise.
func (w *childWorker) exitDetail(cause error) string {
	werr := w.reap()
	switch {
	case werr != nil:
		return werr.Error()
	case errors.Is(cause, io.EOF):
		return "worker exited before returning a result"
	default:
		return cause.Error()
	}
}

// kill forcibly terminates the worker.
func (w *childWorker) kill() {
	w.reap()
}

// reap terminates the process if needed and collects its exit status.
// Idempotent: the first caller's result is kept.
func (w *childWorker) reap() error {
	if w.reaped {
		return w.waitErr
	}
	w.reaped = true
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
	w.stdin.Close()
	w.waitErr = w.cmd.Wait()
	return w.waitErr
}

// shutdown retires a worker: closing stdin makes the serve loop exit on
// its own, with a kill as backstop for a wedged child.
func (w *childWorker) shutdown() {
	if w.reaped {
		return
	}
	w.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case err := <-done:
		w.reaped = true
		w.waitErr = err
	case <-time.After(workerExitGrace):
		w.logger.Warn("Worker ignored shutdown, killing", "slot", w.slot)
		w.cmd.Process.Kill()
		w.reaped = true
		w.waitErr = <-done
	}
}
