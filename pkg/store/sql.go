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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/docpipe/pkg/document"
)

// ErrNotFound is returned when a document ID has no row.
var ErrNotFound = errors.New("document not found")

// documentColumns is the canonical column order for reads and inserts.
const documentColumns = `id, source, title, organization, published_year, document_type,
	country, language, filepath, pdf_url, status, error_message, parsed_folder, stages,
	page_count, word_count, chunk_count, file_format, file_size_mb, toc, toc_classified,
	full_summary, pipeline_elapsed_seconds, created_at, updated_at`

// updatableFields maps accepted field names to their columns. Field names
// arrive already normalized (sys_ prefix stripped).
var updatableFields = map[string]bool{
	"source":                   true,
	"title":                    true,
	"organization":             true,
	"published_year":           true,
	"document_type":            true,
	"country":                  true,
	"language":                 true,
	"filepath":                 true,
	"pdf_url":                  true,
	"status":                   true,
	"error_message":            true,
	"parsed_folder":            true,
	"stages":                   true,
	"page_count":               true,
	"word_count":               true,
	"chunk_count":              true,
	"file_format":              true,
	"file_size_mb":             true,
	"toc":                      true,
	"toc_classified":           true,
	"full_summary":             true,
	"pipeline_elapsed_seconds": true,
}

// facetFields are the columns FacetDocuments may group by.
var facetFields = map[string]bool{
	"status":         true,
	"organization":   true,
	"published_year": true,
	"document_type":  true,
	"country":        true,
	"language":       true,
	"file_format":    true,
}

// ListFilter narrows document listings.
type ListFilter struct {
	Status document.Status
	Year   string

	// Organization matches exactly.
	Organization string

	// NameLike matches a case-insensitive substring of the file path
	// or title.
	NameLike string

	// Offset and Limit page through the ordered listing. A zero Limit
	// returns everything from Offset on.
	Offset int
	Limit  int
}

// sqlStore persists document rows. It is dialect-aware: queries are written
// with ? placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db      *sql.DB
	dialect string
}

func newSQLStore(db *sql.DB, dialect string) *sqlStore {
	return &sqlStore{db: db, dialect: dialect}
}

// rebind converts ? placeholders to $N for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Init creates the documents table and its indexes.
func (s *sqlStore) Init(ctx context.Context) error {
	// TEXT columns carry no defaults: MySQL forbids them, and Register
	// always writes complete rows.
	schema := `CREATE TABLE IF NOT EXISTS documents (
		id VARCHAR(64) PRIMARY KEY,
		source VARCHAR(128) NOT NULL,
		title TEXT NOT NULL,
		organization VARCHAR(255) NOT NULL,
		published_year VARCHAR(16) NOT NULL,
		document_type VARCHAR(64) NOT NULL,
		country VARCHAR(128) NOT NULL,
		language VARCHAR(64) NOT NULL,
		filepath TEXT NOT NULL,
		pdf_url TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		error_message TEXT NOT NULL,
		parsed_folder TEXT NOT NULL,
		stages TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		file_format VARCHAR(16) NOT NULL,
		file_size_mb REAL NOT NULL DEFAULT 0,
		toc TEXT NOT NULL,
		toc_classified TEXT NOT NULL,
		full_summary TEXT NOT NULL,
		pipeline_elapsed_seconds REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP(6) NOT NULL,
		updated_at TIMESTAMP(6) NOT NULL
	)`
	if s.dialect == "sqlite" {
		// SQLite stores timestamps as text; precision qualifiers are noise.
		schema = strings.ReplaceAll(schema, "TIMESTAMP(6)", "TIMESTAMP")
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)",
		"CREATE INDEX IF NOT EXISTS idx_documents_year ON documents(published_year)",
		"CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source)",
	} {
		if s.dialect == "mysql" {
			// MySQL has no IF NOT EXISTS for indexes; ignore duplicates.
			idx = strings.Replace(idx, "IF NOT EXISTS ", "", 1)
			if _, err := s.db.ExecContext(ctx, idx); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
					continue
				}
				return fmt.Errorf("failed to create index: %w", err)
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Register inserts a document row if it does not exist. Existing rows are
// left untouched so re-scans never reset pipeline state. Returns whether a
// row was inserted.
func (s *sqlStore) Register(ctx context.Context, doc *document.Document) (bool, error) {
	var verb string
	var suffix string
	switch s.dialect {
	case "mysql":
		verb = "INSERT IGNORE INTO"
	case "postgres":
		verb = "INSERT INTO"
		suffix = " ON CONFLICT (id) DO NOTHING"
	default:
		verb = "INSERT OR IGNORE INTO"
	}

	stages, err := marshalStages(doc.Stages)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	query := s.rebind(fmt.Sprintf(
		"%s documents (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)%s",
		verb, documentColumns, suffix))

	res, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.Source, doc.Title, doc.Organization, doc.PublishedYear, doc.DocumentType,
		doc.Country, doc.Language, doc.Filepath, doc.PDFURL, string(doc.Status), doc.ErrorMessage,
		doc.ParsedFolder, stages, doc.PageCount, doc.WordCount, doc.ChunkCount, doc.FileFormat,
		doc.FileSizeMB, doc.TOC, doc.TOCClassified, doc.FullSummary, doc.PipelineElapsedSeconds,
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to register document %s: %w", doc.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return affected > 0, nil
}

// Get fetches one document by ID.
func (s *sqlStore) Get(ctx context.Context, id string) (*document.Document, error) {
	query := s.rebind(fmt.Sprintf("SELECT %s FROM documents WHERE id = ?", documentColumns))
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	return doc, nil
}

// UpdateFields applies a partial update. Field names must be normalized
// columns; unknown fields are rejected.
func (s *sqlStore) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for field, value := range fields {
		if !updatableFields[field] {
			return fmt.Errorf("unknown document field: %s", field)
		}
		converted, err := convertFieldValue(field, value)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, field+" = ?")
		args = append(args, converted)
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := s.rebind(fmt.Sprintf("UPDATE documents SET %s WHERE id = ?", strings.Join(setClauses, ", ")))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Select lists documents for a source matching the filter, ordered by
// registration time.
func (s *sqlStore) Select(ctx context.Context, source string, filter ListFilter) ([]*document.Document, error) {
	where := []string{"source = ?"}
	args := []any{source}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Year != "" {
		where = append(where, "published_year = ?")
		args = append(args, filter.Year)
	}
	if filter.Organization != "" {
		where = append(where, "organization = ?")
		args = append(args, filter.Organization)
	}
	if filter.NameLike != "" {
		where = append(where, "(LOWER(filepath) LIKE ? OR LOWER(title) LIKE ?)")
		needle := "%" + strings.ToLower(filter.NameLike) + "%"
		args = append(args, needle, needle)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM documents WHERE %s ORDER BY created_at, filepath",
		documentColumns, strings.Join(where, " AND "))
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			// MySQL and SQLite accept OFFSET only after a LIMIT.
			limit = math.MaxInt32
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Years returns the distinct publication years holding at least one
// document in the given status, most recent first. Documents without a
// year are excluded.
func (s *sqlStore) Years(ctx context.Context, source string, status document.Status) ([]string, error) {
	query := s.rebind(`SELECT DISTINCT published_year FROM documents
		WHERE source = ? AND status = ? AND published_year != ''
		ORDER BY published_year DESC`)

	rows, err := s.db.QueryContext(ctx, query, source, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list years: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var years []string
	for rows.Next() {
		var year string
		if err := rows.Scan(&year); err != nil {
			return nil, err
		}
		years = append(years, year)
	}
	return years, rows.Err()
}

// Facet returns value → count for one of the facetable columns,
// optionally restricted to documents in one status.
func (s *sqlStore) Facet(ctx context.Context, source, field string, status document.Status) (map[string]int, error) {
	if !facetFields[field] {
		return nil, fmt.Errorf("cannot facet on field: %s", field)
	}

	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM documents WHERE source = ?", field)
	args := []any{source}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += fmt.Sprintf(" GROUP BY %s", field)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to facet documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var value string
		var count int
		if err := rows.Scan(&value, &count); err != nil {
			return nil, err
		}
		counts[value] = count
	}
	return counts, rows.Err()
}

// Count returns the number of documents for a source, optionally in one
// status.
func (s *sqlStore) Count(ctx context.Context, source string, status document.Status) (int, error) {
	query := "SELECT COUNT(*) FROM documents WHERE source = ?"
	args := []any{source}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// DeleteAll removes every document row for a source.
func (s *sqlStore) DeleteAll(ctx context.Context, source string) error {
	query := s.rebind("DELETE FROM documents WHERE source = ?")
	if _, err := s.db.ExecContext(ctx, query, source); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var doc document.Document
	var status, stages string

	err := row.Scan(
		&doc.ID, &doc.Source, &doc.Title, &doc.Organization, &doc.PublishedYear, &doc.DocumentType,
		&doc.Country, &doc.Language, &doc.Filepath, &doc.PDFURL, &status, &doc.ErrorMessage,
		&doc.ParsedFolder, &stages, &doc.PageCount, &doc.WordCount, &doc.ChunkCount, &doc.FileFormat,
		&doc.FileSizeMB, &doc.TOC, &doc.TOCClassified, &doc.FullSummary, &doc.PipelineElapsedSeconds,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	doc.Status = document.Status(status)
	if stages != "" && stages != "{}" {
		if err := json.Unmarshal([]byte(stages), &doc.Stages); err != nil {
			return nil, fmt.Errorf("failed to decode stages for %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func marshalStages(stages map[document.Stage]document.StageResult) (string, error) {
	if len(stages) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(stages)
	if err != nil {
		return "", fmt.Errorf("failed to encode stages: %w", err)
	}
	return string(data), nil
}

// convertFieldValue massages values into driver-friendly types.
func convertFieldValue(field string, value any) (any, error) {
	switch v := value.(type) {
	case document.Status:
		return string(v), nil
	case map[document.Stage]document.StageResult:
		return marshalStages(v)
	case []string, []any, map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", field, err)
		}
		return string(data), nil
	default:
		return value, nil
	}
}
