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

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/docpipe/pkg/chunker"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/parsed"
)

const (
	// embedGroupSize is how many chunk texts ride in one embedding call.
	embedGroupSize = 64

	// embedConcurrency bounds in-flight embedding calls per document.
	embedConcurrency = 2

	// chunksFileName is the optional chunk debug artifact in a parsed folder.
	chunksFileName = "chunks.json"
)

// ChunkStore is the slice of the document store the indexer writes to.
type ChunkStore interface {
	DeleteDocumentChunks(ctx context.Context, docID string) error
	UpsertChunks(ctx context.Context, doc *document.Document, chunks []*document.Chunk, wait bool) error
}

// Embedder produces dense vectors for chunk texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer chunks the parsed document, embeds the chunks, and replaces the
// document's points in the vector store.
type Indexer struct {
	layout     document.Layout
	chunker    *chunker.Chunker
	embedder   Embedder
	store      ChunkStore
	saveChunks bool
	logger     *slog.Logger

	lastChunks []*document.Chunk
}

// NewIndexer builds the index stage processor.
func NewIndexer(layout document.Layout, ch *chunker.Chunker, emb Embedder, store ChunkStore, saveChunks bool) *Indexer {
	return &Indexer{
		layout:     layout,
		chunker:    ch,
		embedder:   emb,
		store:      store,
		saveChunks: saveChunks,
		logger:     logger.GetLogger().With("component", "indexer"),
	}
}

// Process loads the parsed artifacts, chunks and embeds them, and swaps
// the document's chunk points. Returns the chunk_count update.
func (ix *Indexer) Process(ctx context.Context, doc *document.Document) (map[string]any, error) {
	ix.lastChunks = nil

	dir := ix.layout.ParsedFolder(doc)
	art, err := parsed.LoadArtifacts(dir, doc.Stem())
	if err != nil {
		return nil, fmt.Errorf("failed to load parsed artifacts: %w", err)
	}

	chunks := ix.chunker.Chunk(art, doc.ID)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document produced no chunks")
	}
	for i, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = document.NewChunkID(doc.ID, i)
		}
	}

	if err := ix.embedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	// Delete first so points from a longer previous indexing cannot
	// survive beyond the new chunk set.
	if err := ix.store.DeleteDocumentChunks(ctx, doc.ID); err != nil {
		return nil, err
	}
	if err := ix.store.UpsertChunks(ctx, doc, chunks, true); err != nil {
		return nil, err
	}

	if ix.saveChunks {
		if err := writeChunksFile(dir, chunks); err != nil {
			ix.logger.Warn("Failed to write chunks file", "document_id", doc.ID, "error", err)
		}
	}

	ix.lastChunks = chunks
	ix.logger.Info("Indexed document", "document_id", doc.ID, "chunks", len(chunks))
	return map[string]any{"chunk_count": len(chunks)}, nil
}

// Chunks returns the chunks produced by the most recent successful
// Process, consumed by the post-index tagging pass. Workers process one
// document at a time, so the handoff needs no synchronization.
func (ix *Indexer) Chunks() []*document.Chunk {
	return ix.lastChunks
}

// embedChunks fills chunk embeddings, running group calls concurrently.
// Each group writes a disjoint slice of the result, so no locking.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []*document.Chunk) error {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(embedConcurrency)
	var acquireErr error
	for start := 0; start < len(texts); start += embedGroupSize {
		end := start + embedGroupSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			out, err := ix.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(out) != end-start {
				return fmt.Errorf("embedded %d texts, got %d vectors", end-start, len(out))
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	if acquireErr != nil {
		return acquireErr
	}

	for i, chunk := range chunks {
		chunk.Embedding = vectors[i]
	}
	return nil
}

func writeChunksFile(dir string, chunks []*document.Chunk) error {
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, chunksFileName), data, 0644)
}
