package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/pipeline"
)

type scriptedRunner struct {
	run    func(ctx context.Context, doc *document.Document) Result
	closed int
}

func (r *scriptedRunner) RunTask(ctx context.Context, doc *document.Document) Result {
	return r.run(ctx, doc)
}

func (r *scriptedRunner) Close() { r.closed++ }

func cleanRunner() *scriptedRunner {
	return &scriptedRunner{run: func(_ context.Context, doc *document.Document) Result {
		return Result{DocID: doc.ID, Status: document.StatusParsed}
	}}
}

func testDocs(n int) []*document.Document {
	docs := make([]*document.Document, n)
	for i := range docs {
		docs[i] = &document.Document{ID: "doc-" + string(rune('a'+i)), Status: document.StatusDownloaded}
	}
	return docs
}

func testInlinePool(timeout time.Duration, recycle int) *inlinePool {
	cfg := &config.Config{Pipeline: config.PipelineConfig{
		Workers: 1, TaskTimeout: timeout, TasksPerWorker: recycle,
	}}
	return newInlinePool(cfg, "eval", pipeline.Options{})
}

func collect(t *testing.T, ch <-chan Outcome) []Outcome {
	t.Helper()
	var out []Outcome
	deadline := time.After(5 * time.Second)
	for {
		select {
		case o, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, o)
		case <-deadline:
			t.Fatal("pool did not finish in time")
		}
	}
}

func TestInlinePoolProcessesEveryDocument(t *testing.T) {
	p := testInlinePool(time.Minute, 10)
	runner := cleanRunner()
	built := 0
	p.newRuntime = func(context.Context) (taskRunner, error) { built++; return runner, nil }

	docs := testDocs(3)
	outcomes := collect(t, p.Run(context.Background(), docs))

	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Class != OutcomeClean {
			t.Errorf("outcome %d class = %s, want clean", i, o.Class)
		}
		if o.Doc != docs[i] {
			t.Errorf("outcome %d document out of order", i)
		}
		if o.Result == nil || o.Result.DocID != docs[i].ID {
			t.Errorf("outcome %d result missing or mismatched", i)
		}
	}
	if built != 1 {
		t.Errorf("built %d runtimes, want 1", built)
	}
	if runner.closed != 1 {
		t.Errorf("runtime closed %d times, want 1", runner.closed)
	}
}

func TestInlinePoolRecyclesRuntime(t *testing.T) {
	p := testInlinePool(time.Minute, 2)
	var runners []*scriptedRunner
	p.newRuntime = func(context.Context) (taskRunner, error) {
		r := cleanRunner()
		runners = append(runners, r)
		return r, nil
	}

	outcomes := collect(t, p.Run(context.Background(), testDocs(5)))

	if len(outcomes) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(outcomes))
	}
	if len(runners) != 3 {
		t.Fatalf("built %d runtimes, want 3 with recycling after 2 tasks", len(runners))
	}
	for i, r := range runners {
		if r.closed != 1 {
			t.Errorf("runtime %d closed %d times, want 1", i, r.closed)
		}
	}
}

func TestInlinePoolTimesOutStuckTask(t *testing.T) {
	p := testInlinePool(50*time.Millisecond, 10)

	stuck := &scriptedRunner{run: func(ctx context.Context, doc *document.Document) Result {
		<-ctx.Done()
		return Result{DocID: doc.ID}
	}}
	fresh := cleanRunner()
	built := 0
	p.newRuntime = func(context.Context) (taskRunner, error) {
		built++
		if built == 1 {
			return stuck, nil
		}
		return fresh, nil
	}

	outcomes := collect(t, p.Run(context.Background(), testDocs(2)))

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	if outcomes[0].Class != OutcomeTimeout {
		t.Errorf("first outcome class = %s, want timeout", outcomes[0].Class)
	}
	if outcomes[1].Class != OutcomeClean {
		t.Errorf("second outcome class = %s, want clean", outcomes[1].Class)
	}
	if built != 2 {
		t.Errorf("built %d runtimes, want 2 (replacement after timeout)", built)
	}
	if stuck.closed != 0 {
		t.Errorf("timed-out runtime was closed under its abandoned task")
	}
}

func TestInlinePoolReportsInitFailure(t *testing.T) {
	p := testInlinePool(time.Minute, 10)
	p.newRuntime = func(context.Context) (taskRunner, error) {
		return nil, errors.New("store unreachable")
	}

	outcomes := collect(t, p.Run(context.Background(), testDocs(2)))

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Class != OutcomeCrash {
			t.Errorf("outcome %d class = %s, want crash", i, o.Class)
		}
		if want := "worker initialization failed: store unreachable"; o.Detail != want {
			t.Errorf("outcome %d detail = %q, want %q", i, o.Detail, want)
		}
	}
}

func TestInlinePoolPassesThroughInBandError(t *testing.T) {
	p := testInlinePool(time.Minute, 10)
	p.newRuntime = func(context.Context) (taskRunner, error) {
		return &scriptedRunner{run: func(_ context.Context, doc *document.Document) Result {
			return Result{DocID: doc.ID, Error: ErrMemoryTimeout.Error()}
		}}, nil
	}

	outcomes := collect(t, p.Run(context.Background(), testDocs(1)))

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	o := outcomes[0]
	if o.Class != OutcomeError {
		t.Errorf("class = %s, want error", o.Class)
	}
	if o.Detail != "OOM Protection: Timeout waiting for memory" {
		t.Errorf("detail = %q", o.Detail)
	}
	if o.Result == nil {
		t.Error("in-band error outcome should carry the result")
	}
}

func TestInlinePoolStopsDispatchingOnCancel(t *testing.T) {
	p := testInlinePool(time.Minute, 10)
	started := make(chan struct{}, 3)
	p.newRuntime = func(context.Context) (taskRunner, error) {
		return &scriptedRunner{run: func(_ context.Context, doc *document.Document) Result {
			started <- struct{}{}
			return Result{DocID: doc.ID}
		}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Run(ctx, testDocs(3))

	// The pool is parked delivering the first outcome when we cancel, so
	// nothing after it may be dispatched.
	<-started
	cancel()

	outcomes := collect(t, ch)
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes after cancel, want 1", len(outcomes))
	}
}

func TestClassifyOutcomes(t *testing.T) {
	doc := &document.Document{ID: "doc-1"}

	clean := classify(doc, Result{DocID: "doc-1", Status: document.StatusIndexed, Failed: true})
	if clean.Class != OutcomeClean || clean.Result.Failed != true {
		t.Errorf("clean classify = %+v", clean)
	}

	errOut := classify(doc, Result{DocID: "doc-1", Error: "boom"})
	if errOut.Class != OutcomeError || errOut.Detail != "boom" {
		t.Errorf("error classify = %+v", errOut)
	}
}

func TestNewPoolSelectsShape(t *testing.T) {
	cfg := &config.Config{Pipeline: config.PipelineConfig{Workers: 1, TaskTimeout: time.Minute, TasksPerWorker: 5}}
	p, err := NewPool(cfg, "eval", pipeline.Options{}, LogSettings{})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	if _, ok := p.(*inlinePool); !ok {
		t.Errorf("workers=1 built %T, want inline pool", p)
	}

	cfg.Pipeline.Workers = 4
	p, err = NewPool(cfg, "eval", pipeline.Options{}, LogSettings{})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	if _, ok := p.(*processPool); !ok {
		t.Errorf("workers=4 built %T, want process pool", p)
	}
}
