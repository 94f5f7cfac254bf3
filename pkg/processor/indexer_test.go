package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kadirpekel/docpipe/pkg/chunker"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/parsed"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type vectorCapture struct {
	ops        []string
	deletedIDs []string
	upserted   []*document.Chunk
	upsertWait bool
	deleteErr  error
	upsertErr  error
}

func (v *vectorCapture) DeleteDocumentChunks(_ context.Context, docID string) error {
	v.ops = append(v.ops, "delete")
	v.deletedIDs = append(v.deletedIDs, docID)
	return v.deleteErr
}

func (v *vectorCapture) UpsertChunks(_ context.Context, _ *document.Document, chunks []*document.Chunk, wait bool) error {
	v.ops = append(v.ops, "upsert")
	v.upserted = chunks
	v.upsertWait = wait
	return v.upsertErr
}

type lenEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *lenEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

func indexerFixture(t *testing.T) (*document.Document, document.Layout) {
	t.Helper()
	root := t.TempDir()
	doc := &document.Document{
		ID:           "doc-1",
		Filepath:     "pdfs/unicef/2023/report.pdf",
		ParsedFolder: "parsed/unicef/2023/report",
	}
	layout := document.NewLayout(root)

	pd := &parsed.Document{
		Name: "report",
		Items: []parsed.Item{
			{Ref: "#/items/0", Kind: parsed.ItemSectionHeader, Text: "Key Findings", Level: 1, Page: 1},
			{Ref: "#/items/1", Kind: parsed.ItemText, Label: "text", Page: 1,
				Text: "School attendance improved across the northern districts during the programme period, with the largest gains recorded among girls in rural catchment areas."},
			{Ref: "#/items/2", Kind: parsed.ItemText, Label: "text", Page: 2,
				Text: "Teacher retention remained a persistent challenge, and the evaluation found that incentive payments alone did not offset the effect of delayed salary disbursement."},
		},
		Pages: map[int]parsed.Page{1: {Number: 1}, 2: {Number: 2}},
	}
	art := &parsed.Artifacts{Doc: pd, Images: parsed.ImagesByPage{}}
	if err := art.Save(layout.ParsedFolder(doc), "report"); err != nil {
		t.Fatal(err)
	}
	return doc, layout
}

func newTestIndexer(layout document.Layout, emb Embedder, store ChunkStore, save bool) *Indexer {
	return NewIndexer(layout, chunker.New(wordCounter{}, 512), emb, store, save)
}

func TestIndexEmbedsAndReplacesChunks(t *testing.T) {
	doc, layout := indexerFixture(t)
	store := &vectorCapture{}
	ix := newTestIndexer(layout, &lenEmbedder{}, store, false)

	updates, err := ix.Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(store.ops) != 2 || store.ops[0] != "delete" || store.ops[1] != "upsert" {
		t.Errorf("store ops = %v, want [delete upsert]", store.ops)
	}
	if len(store.deletedIDs) != 1 || store.deletedIDs[0] != "doc-1" {
		t.Errorf("deleted ids = %v, want [doc-1]", store.deletedIDs)
	}
	if !store.upsertWait {
		t.Error("upsert must wait for durability")
	}

	if len(store.upserted) == 0 {
		t.Fatal("no chunks upserted")
	}
	if updates["chunk_count"] != len(store.upserted) {
		t.Errorf("chunk_count = %v, want %d", updates["chunk_count"], len(store.upserted))
	}
	for i, chunk := range store.upserted {
		if chunk.ID == "" {
			t.Errorf("chunk %d has no id", i)
		}
		if len(chunk.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", i)
		}
	}
	if got := ix.Chunks(); len(got) != len(store.upserted) {
		t.Errorf("Chunks() returned %d chunks, want %d", len(got), len(store.upserted))
	}
}

func TestIndexSaveChunksWritesArtifact(t *testing.T) {
	doc, layout := indexerFixture(t)
	ix := newTestIndexer(layout, &lenEmbedder{}, &vectorCapture{}, true)

	if _, err := ix.Process(context.Background(), doc); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	path := filepath.Join(layout.ParsedFolder(doc), chunksFileName)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("chunks file not written: %v", err)
	}
}

func TestIndexFailsWithoutArtifacts(t *testing.T) {
	doc, layout := indexerFixture(t)
	doc.ParsedFolder = "parsed/unicef/2023/missing"
	ix := newTestIndexer(layout, &lenEmbedder{}, &vectorCapture{}, false)

	if _, err := ix.Process(context.Background(), doc); err == nil {
		t.Fatal("expected error for missing parsed artifacts")
	}
}

func TestIndexDeleteFailureAborts(t *testing.T) {
	doc, layout := indexerFixture(t)
	store := &vectorCapture{deleteErr: errors.New("vector store down")}
	ix := newTestIndexer(layout, &lenEmbedder{}, store, false)

	if _, err := ix.Process(context.Background(), doc); err == nil {
		t.Fatal("expected delete failure to surface")
	}
	if len(store.ops) != 1 || store.ops[0] != "delete" {
		t.Errorf("store ops = %v, want delete only", store.ops)
	}
	if ix.Chunks() != nil {
		t.Error("Chunks() must be empty after a failed Process")
	}
}

func TestIndexEmbedFailureAborts(t *testing.T) {
	doc, layout := indexerFixture(t)
	store := &vectorCapture{}
	ix := newTestIndexer(layout, &lenEmbedder{err: errors.New("server gone")}, store, false)

	if _, err := ix.Process(context.Background(), doc); err == nil {
		t.Fatal("expected embed failure to surface")
	}
	if len(store.ops) != 0 {
		t.Errorf("store ops = %v, want none before embedding succeeds", store.ops)
	}
}
