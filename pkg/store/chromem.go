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

package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemProvider implements Provider using chromem-go for embedded vector
// storage. It requires no external services: vectors live in memory with
// optional file persistence, which makes it the default provider and the
// backend used by tests.
//
// Limitations:
//   - Single-process only
//   - Memory-bound (all vectors in RAM)
//
// For production at scale, use Qdrant.
type ChromemProvider struct {
	db          *chromem.DB
	persistPath string
	compress    bool
	mu          sync.RWMutex

	// collections caches collection references
	collections map[string]*chromem.Collection

	// embeddingFunc satisfies chromem's API; vectors arrive pre-computed
	// from the embedder, so it must never be called.
	embeddingFunc chromem.EmbeddingFunc
}

// ChromemConfig configures the chromem provider.
type ChromemConfig struct {
	// PersistPath for file persistence (optional).
	// If empty, vectors are stored in memory only.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression for persistence.
	Compress bool `yaml:"compress,omitempty"`
}

// NewChromemProvider creates a new chromem-based vector provider.
func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	var err error

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		dbPath := persistFile(cfg.PersistPath, cfg.Compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			db, err = chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("Failed to load existing vector database, creating new",
					"path", dbPath,
					"error", err)
				db = chromem.NewDB()
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	return &ChromemProvider{
		db:            db,
		persistPath:   cfg.PersistPath,
		compress:      cfg.Compress,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identityEmbed,
	}, nil
}

// Name returns the provider name.
func (p *ChromemProvider) Name() string {
	return "chromem"
}

// getCollection gets or creates a collection.
func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	col, err := p.db.GetOrCreateCollection(name, nil, p.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}

	p.collections[name] = col
	return col, nil
}

// UpsertBatch adds or replaces points. Writes are applied in-process and
// persisted before return, so the wait flag is always satisfied.
func (p *ChromemProvider) UpsertBatch(ctx context.Context, collection string, points []Point, wait bool) error {
	if len(points) == 0 {
		return nil
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, point := range points {
		content, metadata := splitChromemPayload(point.Payload)
		docs = append(docs, chromem.Document{
			ID:        point.ID,
			Content:   content,
			Metadata:  metadata,
			Embedding: point.Vector,
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}
	return p.persist()
}

// SetPayload merges payload fields into existing points. chromem has no
// partial payload update, so each point is read, merged, and re-added.
func (p *ChromemProvider) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any, wait bool) error {
	if len(ids) == 0 || len(payload) == 0 {
		return nil
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	updated := make([]chromem.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load point %s: %w", id, err)
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]string, len(payload))
		}
		for k, v := range payload {
			doc.Metadata[k] = fmt.Sprint(v)
		}
		updated = append(updated, doc)
	}

	if err := col.AddDocuments(ctx, updated, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to update payload: %w", err)
	}
	return p.persist()
}

// DeleteByFilter removes all points matching the filter.
func (p *ChromemProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	whereFilter := make(map[string]string, len(filter))
	for k, v := range filter {
		whereFilter[k] = fmt.Sprint(v)
	}

	if err := col.Delete(ctx, whereFilter, nil); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return p.persist()
}

// Count returns the number of points in a collection.
func (p *ChromemProvider) Count(ctx context.Context, collection string) (uint64, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return 0, err
	}
	return uint64(col.Count()), nil
}

// DeleteCollection removes a collection and all its points.
func (p *ChromemProvider) DeleteCollection(ctx context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(p.collections, collection)

	return p.persist()
}

// Close persists the database and releases resources.
func (p *ChromemProvider) Close() error {
	return p.persist()
}

// persist saves the database to disk if persistence is enabled.
func (p *ChromemProvider) persist() error {
	if p.persistPath == "" {
		return nil
	}

	//nolint:staticcheck // Using deprecated function for compatibility
	if err := p.db.Export(persistFile(p.persistPath, p.compress), p.compress, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}
	return nil
}

func persistFile(dir string, compress bool) string {
	path := dir + "/vectors.gob"
	if compress {
		path += ".gz"
	}
	return path
}

// splitChromemPayload separates the content field from string metadata.
func splitChromemPayload(payload map[string]any) (string, map[string]string) {
	content := ""
	metadata := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == "content" {
			if s, ok := v.(string); ok {
				content = s
				continue
			}
		}
		metadata[k] = fmt.Sprint(v)
	}
	return content, metadata
}

// Ensure ChromemProvider implements Provider.
var _ Provider = (*ChromemProvider)(nil)
