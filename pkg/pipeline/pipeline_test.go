package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/processor"
)

type updateCall struct {
	id     string
	fields map[string]any
	wait   bool
}

type fakeStore struct {
	docs     map[string]*document.Document
	updates  []updateCall
	readErr  error
	writeErr error
}

func (f *fakeStore) Document(_ context.Context, id string) (*document.Document, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	clone := *d
	return &clone, nil
}

func (f *fakeStore) UpdateDocument(_ context.Context, id string, fields map[string]any, wait bool) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.updates = append(f.updates, updateCall{id: id, fields: fields, wait: wait})
	d, ok := f.docs[id]
	if !ok {
		return errors.New("not found")
	}
	if s, ok := fields["status"].(document.Status); ok {
		d.Status = s
	}
	if pf, ok := fields["parsed_folder"].(string); ok {
		d.ParsedFolder = pf
	}
	if st, ok := fields["stages"].(map[document.Stage]document.StageResult); ok {
		d.Stages = st
	}
	return nil
}

// statuses lists every status value written, in order.
func (f *fakeStore) statuses() []document.Status {
	var out []document.Status
	for _, u := range f.updates {
		if s, ok := u.fields["status"].(document.Status); ok {
			out = append(out, s)
		}
	}
	return out
}

type stageFunc func(ctx context.Context, doc *document.Document) (map[string]any, error)

func (f stageFunc) Process(ctx context.Context, doc *document.Document) (map[string]any, error) {
	return f(ctx, doc)
}

type fakeProcs struct {
	procs      map[document.Stage]processor.StageProcessor
	tagPassRan int
	tagPassErr error
}

func (f *fakeProcs) ForStage(stage document.Stage) processor.StageProcessor {
	return f.procs[stage]
}

func (f *fakeProcs) TagNewChunks(context.Context, *document.Document) error {
	f.tagPassRan++
	return f.tagPassErr
}

func okStage(updates map[string]any) stageFunc {
	return func(context.Context, *document.Document) (map[string]any, error) {
		return updates, nil
	}
}

func newFixture(status document.Status) (*fakeStore, *document.Document) {
	doc := &document.Document{ID: "doc-1", Filepath: "pdfs/unicef/2023/report.pdf", Status: status}
	// The store keeps its own copy: writes must not alias the runner's
	// in-memory document, same as a remote store.
	persisted := *doc
	st := &fakeStore{docs: map[string]*document.Document{"doc-1": &persisted}}
	return st, doc
}

func allStages() Options {
	return Options{Parse: true, Summarize: true, Tag: true, Index: true}
}

func TestRunAllStagesSucceed(t *testing.T) {
	st, doc := newFixture(document.StatusDownloaded)

	var summarizeSawFolder string
	procs := &fakeProcs{procs: map[document.Stage]processor.StageProcessor{
		document.StageParse: okStage(map[string]any{"parsed_folder": "parsed/unicef/2023/report"}),
		document.StageSummarize: stageFunc(func(_ context.Context, d *document.Document) (map[string]any, error) {
			summarizeSawFolder = d.ParsedFolder
			return map[string]any{"full_summary": "s"}, nil
		}),
		document.StageTag:   okStage(map[string]any{"toc_classified": "[]"}),
		document.StageIndex: okStage(map[string]any{"chunk_count": 3}),
	}}

	r := NewRunner(st, procs, document.NewLayout(t.TempDir()), allStages())
	res, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Failed {
		t.Error("Failed = true, want false")
	}
	if res.Status != document.StatusIndexed {
		t.Errorf("Status = %s, want indexed", res.Status)
	}

	want := []document.Status{
		document.StatusParsing, document.StatusParsed,
		document.StatusSummarizing, document.StatusSummarized,
		document.StatusTagging, document.StatusTagged,
		document.StatusIndexing, document.StatusIndexed,
	}
	got := st.statuses()
	if len(got) != len(want) {
		t.Fatalf("status writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status write %d = %s, want %s", i, got[i], want[i])
		}
	}

	// Reload discipline: summarize must see the folder parse persisted.
	if summarizeSawFolder != "parsed/unicef/2023/report" {
		t.Errorf("summarize saw parsed_folder %q, want the persisted value", summarizeSawFolder)
	}

	if procs.tagPassRan != 1 {
		t.Errorf("chunk tagging pass ran %d times, want 1", procs.tagPassRan)
	}

	last := st.updates[len(st.updates)-1]
	if _, ok := last.fields["pipeline_elapsed_seconds"]; !ok {
		t.Error("pipeline_elapsed_seconds not written last")
	}

	// Transient writes do not wait; terminal writes do.
	if st.updates[0].wait {
		t.Error("transient status write must not wait")
	}
	if !st.updates[1].wait {
		t.Error("terminal stage write must wait")
	}
}

func TestRunParseFailureShortCircuits(t *testing.T) {
	st, doc := newFixture(document.StatusDownloaded)

	ran := map[document.Stage]bool{}
	track := func(stage document.Stage, err error) stageFunc {
		return func(context.Context, *document.Document) (map[string]any, error) {
			ran[stage] = true
			return nil, err
		}
	}
	procs := &fakeProcs{procs: map[document.Stage]processor.StageProcessor{
		document.StageParse:     track(document.StageParse, errors.New("no text layer")),
		document.StageSummarize: track(document.StageSummarize, nil),
		document.StageTag:       track(document.StageTag, nil),
		document.StageIndex:     track(document.StageIndex, nil),
	}}

	r := NewRunner(st, procs, document.NewLayout(t.TempDir()), allStages())
	res, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Failed {
		t.Error("Failed = false, want true")
	}
	if res.Status != document.StatusParseFailed {
		t.Errorf("Status = %s, want parse_failed", res.Status)
	}
	if ran[document.StageSummarize] || ran[document.StageTag] || ran[document.StageIndex] {
		t.Errorf("later stages ran after parse failure: %v", ran)
	}

	terminal := st.updates[1]
	if terminal.fields["error_message"] != "no text layer" {
		t.Errorf("error_message = %v", terminal.fields["error_message"])
	}
	stages, ok := terminal.fields["stages"].(map[document.Stage]document.StageResult)
	if !ok {
		t.Fatal("stages not written with the terminal status")
	}
	if rec := stages[document.StageParse]; rec.Success || rec.Error == "" {
		t.Errorf("parse stage record = %+v, want recorded failure", rec)
	}
}

func TestRunSummarizeFailureSkipsTagAndIndex(t *testing.T) {
	st, doc := newFixture(document.StatusParsed)

	ran := map[document.Stage]bool{}
	procs := &fakeProcs{procs: map[document.Stage]processor.StageProcessor{
		document.StageSummarize: stageFunc(func(context.Context, *document.Document) (map[string]any, error) {
			return nil, errors.New("model unavailable")
		}),
		document.StageTag: stageFunc(func(context.Context, *document.Document) (map[string]any, error) {
			ran[document.StageTag] = true
			return nil, nil
		}),
		document.StageIndex: stageFunc(func(context.Context, *document.Document) (map[string]any, error) {
			ran[document.StageIndex] = true
			return nil, nil
		}),
	}}

	r := NewRunner(st, procs, document.NewLayout(t.TempDir()),
		Options{Summarize: true, Tag: true, Index: true})
	res, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != document.StatusSummarizeFailed || !res.Failed {
		t.Errorf("got status %s failed=%v, want summarize_failed", res.Status, res.Failed)
	}
	if len(ran) != 0 {
		t.Errorf("stages ran after summarize failure: %v", ran)
	}
}

func TestRunTagFailureContinuesToIndex(t *testing.T) {
	st, doc := newFixture(document.StatusSummarized)

	procs := &fakeProcs{procs: map[document.Stage]processor.StageProcessor{
		document.StageTag: stageFunc(func(context.Context, *document.Document) (map[string]any, error) {
			return nil, errors.New("classifier broke")
		}),
		document.StageIndex: okStage(map[string]any{"chunk_count": 2}),
	}}

	r := NewRunner(st, procs, document.NewLayout(t.TempDir()), Options{Tag: true, Index: true})
	res, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Failed {
		t.Error("Failed = false, want true (tag failure counts)")
	}
	if res.Status != document.StatusIndexed {
		t.Errorf("Status = %s, want indexed despite tag failure", res.Status)
	}

	// Tag failure reverts the transient status instead of a failure status.
	want := []document.Status{
		document.StatusTagging, document.StatusSummarized,
		document.StatusIndexing, document.StatusIndexed,
	}
	got := st.statuses()
	if len(got) != len(want) {
		t.Fatalf("status writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status write %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunSkipsIneligibleStages(t *testing.T) {
	st, doc := newFixture(document.StatusSummarized)
	procs := &fakeProcs{procs: map[document.Stage]processor.StageProcessor{
		document.StageParse: okStage(nil),
		document.StageSummarize: stageFunc(func(context.Context, *document.Document) (map[string]any, error) {
			t.Error("summarize ran for an already summarized document")
			return nil, nil
		}),
	}}

	r := NewRunner(st, procs, document.NewLayout(t.TempDir()), Options{Parse: true, Summarize: true})
	res, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != document.StatusSummarized || res.Failed {
		t.Errorf("got status %s failed=%v, want untouched summarized", res.Status, res.Failed)
	}
	if got := st.statuses(); len(got) != 0 {
		t.Errorf("status writes = %v, want none", got)
	}
}

func TestRunChunkPassFailureDoesNotFailRun(t *testing.T) {
	st, doc := newFixture(document.StatusSummarized)
	procs := &fakeProcs{
		procs: map[document.Stage]processor.StageProcessor{
			document.StageTag:   okStage(nil),
			document.StageIndex: okStage(map[string]any{"chunk_count": 1}),
		},
		tagPassErr: errors.New("payload write failed"),
	}

	r := NewRunner(st, procs, document.NewLayout(t.TempDir()), Options{Tag: true, Index: true})
	res, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Failed || res.Status != document.StatusIndexed {
		t.Errorf("got status %s failed=%v, want clean indexed", res.Status, res.Failed)
	}
	if procs.tagPassRan != 1 {
		t.Errorf("chunk tagging pass ran %d times, want 1", procs.tagPassRan)
	}
}

func TestRunStoreErrorIsInfrastructureFault(t *testing.T) {
	st, doc := newFixture(document.StatusDownloaded)
	st.writeErr = errors.New("store down")
	procs := &fakeProcs{procs: map[document.Stage]processor.StageProcessor{
		document.StageParse: okStage(nil),
	}}

	r := NewRunner(st, procs, document.NewLayout(t.TempDir()), Options{Parse: true})
	if _, err := r.Run(context.Background(), doc); err == nil {
		t.Fatal("expected infrastructure error from store failure")
	}
}

func TestRunExtractsProcessingLog(t *testing.T) {
	root := t.TempDir()
	st, doc := newFixture(document.StatusIndexed)
	doc.ParsedFolder = "parsed/unicef/2023/report"
	if err := os.MkdirAll(filepath.Join(root, "parsed", "unicef", "2023", "report"), 0755); err != nil {
		t.Fatal(err)
	}

	runLog := filepath.Join(root, "run.log")
	content := "INFO Stage started doc_id=doc-1 stage=parse\nINFO other doc_id=doc-2\n"
	if err := os.WriteFile(runLog, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(st, &fakeProcs{}, document.NewLayout(root), Options{RunLogPath: runLog})
	if _, err := r.Run(context.Background(), doc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "parsed", "unicef", "2023", "report", ProcessingLogFile))
	if err != nil {
		t.Fatalf("processing log not written: %v", err)
	}
	if string(data) != "INFO Stage started doc_id=doc-1 stage=parse\n" {
		t.Errorf("processing log content = %q", string(data))
	}
}

func TestOptionsEnabledStages(t *testing.T) {
	o := Options{Parse: true, Index: true}
	got := o.EnabledStages()
	if len(got) != 2 || got[0] != document.StageParse || got[1] != document.StageIndex {
		t.Errorf("EnabledStages() = %v", got)
	}
}
