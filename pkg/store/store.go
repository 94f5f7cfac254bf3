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
	"strings"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
)

// legacyFieldPrefix marks field names written by older pipeline revisions.
// Both forms are accepted; the prefix is stripped before routing.
const legacyFieldPrefix = "sys_"

// mirroredFields are document fields additionally propagated onto the
// document's chunk payloads, so the vector store stays filterable on its
// own.
var mirroredFields = map[string]bool{
	"status":         true,
	"published_year": true,
	"organization":   true,
}

// NormalizeField maps an incoming field name to its canonical column name.
func NormalizeField(name string) string {
	return strings.TrimPrefix(name, legacyFieldPrefix)
}

// Store is the persistence facade for one source: document rows in the
// relational database, chunk vectors in the vector provider.
type Store struct {
	source     string
	collection string
	sql        *sqlStore
	provider   Provider
	logger     *slog.Logger
}

// New opens the store for a source. The relational schema is created on
// first use; the vector collection is created lazily on first upsert.
func New(ctx context.Context, source string, cfg *config.SourceConfig, pool *DBPool, dimension int) (*Store, error) {
	db, err := pool.Get(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open document database: %w", err)
	}

	sqlStore := newSQLStore(db, cfg.Database.Dialect())
	if err := sqlStore.Init(ctx); err != nil {
		return nil, err
	}

	provider, err := NewProvider(cfg.Vector, dimension)
	if err != nil {
		return nil, err
	}

	return &Store{
		source:     source,
		collection: cfg.Collection,
		sql:        sqlStore,
		provider:   provider,
		logger:     logger.GetLogger().With("component", "store", "source", source),
	}, nil
}

// Source returns the source name this store serves.
func (s *Store) Source() string {
	return s.source
}

// Collection returns the vector collection name.
func (s *Store) Collection() string {
	return s.collection
}

// RegisterDocument inserts a document if it is not already known. Existing
// documents keep their pipeline state. Returns whether a row was inserted.
func (s *Store) RegisterDocument(ctx context.Context, doc *document.Document) (bool, error) {
	if doc.Source == "" {
		doc.Source = s.source
	}
	if doc.Status == "" {
		doc.Status = document.StatusDownloaded
	}
	return s.sql.Register(ctx, doc)
}

// Document fetches one document by ID.
func (s *Store) Document(ctx context.Context, id string) (*document.Document, error) {
	return s.sql.Get(ctx, id)
}

// DocumentsByStatus lists documents in a status, optionally narrowed to one
// publication year, in registration order.
func (s *Store) DocumentsByStatus(ctx context.Context, status document.Status, year string) ([]*document.Document, error) {
	return s.sql.Select(ctx, s.source, ListFilter{Status: status, Year: year})
}

// SelectDocuments lists documents matching an arbitrary filter.
func (s *Store) SelectDocuments(ctx context.Context, filter ListFilter) ([]*document.Document, error) {
	return s.sql.Select(ctx, s.source, filter)
}

// YearsForStatus returns publication years holding at least one document in
// the status, most recent first.
func (s *Store) YearsForStatus(ctx context.Context, status document.Status) ([]string, error) {
	return s.sql.Years(ctx, s.source, status)
}

// UpdateDocument applies a partial update. Field names may carry the legacy
// sys_ prefix. Updates touching mirrored fields are propagated onto the
// document's chunk payloads. Relational writes commit before return; wait
// additionally makes the chunk-payload propagation durable before return.
func (s *Store) UpdateDocument(ctx context.Context, id string, fields map[string]any, wait bool) error {
	normalized := make(map[string]any, len(fields))
	mirror := make(map[string]any)
	for name, value := range fields {
		canonical := NormalizeField(name)
		normalized[canonical] = value
		if mirroredFields[canonical] {
			mirror[canonical] = value
		}
	}

	if err := s.sql.UpdateFields(ctx, id, normalized); err != nil {
		return err
	}

	if len(mirror) == 0 {
		return nil
	}
	doc, err := s.sql.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.ChunkCount == 0 {
		return nil
	}
	if err := s.provider.SetPayload(ctx, s.collection, chunkIDs(id, doc.ChunkCount), mirror, wait); err != nil {
		return fmt.Errorf("failed to mirror document fields onto chunks: %w", err)
	}
	return nil
}

// UpsertChunks writes a document's chunks to the vector store. Chunk IDs
// are derived from the document ID and chunk index, so re-indexing a
// document overwrites its previous points. Payloads carry the chunk fields
// plus a mirrored subset of document metadata.
func (s *Store) UpsertChunks(ctx context.Context, doc *document.Document, chunks []*document.Chunk, wait bool) error {
	points := make([]Point, 0, len(chunks))
	for i, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = document.NewChunkID(doc.ID, i)
		}
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("chunk %d of document %s has no embedding", i, doc.ID)
		}
		points = append(points, Point{
			ID:      chunk.ID,
			Vector:  chunk.Embedding,
			Payload: chunkPayload(doc, chunk),
		})
	}

	if err := s.provider.UpsertBatch(ctx, s.collection, points, wait); err != nil {
		return fmt.Errorf("failed to upsert chunks for document %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteDocumentChunks removes every chunk point belonging to a document.
func (s *Store) DeleteDocumentChunks(ctx context.Context, docID string) error {
	err := s.provider.DeleteByFilter(ctx, s.collection, map[string]any{"document_id": docID})
	if err != nil {
		return fmt.Errorf("failed to delete chunks for document %s: %w", docID, err)
	}
	return nil
}

// UpdateChunkPayload merges fields into specific chunk payloads, used by
// the post-index chunk tagging pass.
func (s *Store) UpdateChunkPayload(ctx context.Context, chunkIDs []string, fields map[string]any, wait bool) error {
	return s.provider.SetPayload(ctx, s.collection, chunkIDs, fields, wait)
}

// ChunkCount returns the total number of chunk points in the collection.
func (s *Store) ChunkCount(ctx context.Context) (uint64, error) {
	return s.provider.Count(ctx, s.collection)
}

// CountDocuments counts documents for this source, optionally in one
// status.
func (s *Store) CountDocuments(ctx context.Context, status document.Status) (int, error) {
	return s.sql.Count(ctx, s.source, status)
}

// FacetDocuments returns value → count for a facetable document field,
// optionally restricted to documents in one status.
func (s *Store) FacetDocuments(ctx context.Context, field string, status document.Status) (map[string]int, error) {
	return s.sql.Facet(ctx, s.source, NormalizeField(field), status)
}

// ClearAll wipes the source's document rows and its vector collection.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.sql.DeleteAll(ctx, s.source); err != nil {
		return err
	}
	if err := s.provider.DeleteCollection(ctx, s.collection); err != nil {
		// A collection that never existed is not an error worth failing on.
		s.logger.Warn("Failed to delete vector collection", "collection", s.collection, "error", err)
	}
	return nil
}

// Close releases the vector provider. The shared DB pool is closed by its
// owner.
func (s *Store) Close() error {
	return s.provider.Close()
}

// chunkIDs reconstructs the deterministic chunk point IDs for a document.
func chunkIDs(docID string, count int) []string {
	ids := make([]string, count)
	for i := 0; i < count; i++ {
		ids[i] = document.NewChunkID(docID, i)
	}
	return ids
}

// chunkPayload builds the vector payload for one chunk: retrieval content
// plus the document metadata subset that downstream search filters on.
func chunkPayload(doc *document.Document, chunk *document.Chunk) map[string]any {
	payload := map[string]any{
		"content":        chunk.Text,
		"document_id":    doc.ID,
		"source":         doc.Source,
		"title":          doc.Title,
		"organization":   doc.Organization,
		"published_year": doc.PublishedYear,
		"document_type":  doc.DocumentType,
		"status":         string(doc.Status),
		"page_num":       chunk.PageNum,
		"num_tokens":     chunk.NumTokens,
	}
	if doc.Country != "" {
		payload["country"] = doc.Country
	}
	if doc.Language != "" {
		payload["language"] = doc.Language
	}
	if len(chunk.Headings) > 0 {
		payload["headings"] = stringList(chunk.Headings)
	}
	if len(chunk.ItemTypes) > 0 {
		payload["item_types"] = stringList(chunk.ItemTypes)
	}
	if chunk.SectionType != "" {
		payload["section_type"] = chunk.SectionType
	}
	return payload
}

// stringList widens []string to []any for payload conversion.
func stringList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
