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

// Package selector resolves which documents a run will process. Eligibility
// follows from the enabled stages: each enabled stage pulls documents
// sitting in the status it consumes. The result is deduplicated, filtered,
// optionally ordered most-recent-first, partitioned, and truncated.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/store"
)

// Store is the read surface the selector needs.
type Store interface {
	Document(ctx context.Context, id string) (*document.Document, error)
	DocumentsByStatus(ctx context.Context, status document.Status, year string) ([]*document.Document, error)
	YearsForStatus(ctx context.Context, status document.Status) ([]string, error)
}

// Skip holds the per-stage skip flags for a run.
type Skip struct {
	Download  bool
	Scan      bool
	Parse     bool
	Summarize bool
	Tag       bool
	Index     bool
}

// Filters narrows the selected set.
type Filters struct {
	// DocID short-circuits selection to a single document.
	DocID string

	// Agency must equal the document's organization exactly.
	Agency string

	// Report is a substring match against the file path.
	Report string

	// Year filters to one publication year; FromYear/ToYear bound an
	// inclusive range. Documents without a usable year never match a
	// year filter.
	Year     int
	FromYear int
	ToYear   int
}

// Options bundles everything that shapes a selection.
type Options struct {
	Skip        Skip
	Filters     Filters
	RecentFirst bool
	Partition   *Partition
	Limit       int
}

// Selector reads eligible documents from the store.
type Selector struct {
	store  Store
	logger *slog.Logger
}

// New creates a selector over a store.
func New(s Store) *Selector {
	return &Selector{
		store:  s,
		logger: logger.GetLogger().With("component", "selector"),
	}
}

// Select resolves the documents eligible for this run. Store errors are
// fatal and propagate unchanged.
func (s *Selector) Select(ctx context.Context, opts Options) ([]*document.Document, error) {
	if opts.Filters.DocID != "" {
		doc, err := s.store.Document(ctx, opts.Filters.DocID)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Requested document not found", "doc_id", opts.Filters.DocID)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []*document.Document{doc}, nil
	}

	var collected []*document.Document
	for _, status := range readStatuses(opts.Skip) {
		if opts.Limit > 0 && len(collected) >= opts.Limit {
			break
		}
		batch, err := s.fetchStatus(ctx, status, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to read documents in status %s: %w", status, err)
		}
		collected = append(collected, batch...)
	}

	docs := dedupeLastWins(collected)
	docs = applyFilters(docs, opts.Filters)

	if opts.RecentFirst {
		sort.SliceStable(docs, func(i, j int) bool {
			return docs[i].YearInt() > docs[j].YearInt()
		})
	}

	if opts.Partition != nil {
		docs = opts.Partition.Apply(docs)
	}

	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}

	s.logger.Info("Selected documents", "count", len(docs), "recent_first", opts.RecentFirst)
	return docs, nil
}

// readStatuses lists the statuses pulled for the enabled stages:
// tagged feeds index, summarized feeds tag, parsed feeds summarize (or
// index directly when summarize is skipped), downloaded feeds parse.
func readStatuses(skip Skip) []document.Status {
	var statuses []document.Status
	if !skip.Index {
		statuses = append(statuses, document.StatusTagged)
	}
	if !skip.Tag {
		statuses = append(statuses, document.StatusSummarized)
	}
	if !skip.Summarize || !skip.Index {
		statuses = append(statuses, document.StatusParsed)
	}
	if !skip.Parse {
		statuses = append(statuses, document.StatusDownloaded)
	}
	return statuses
}

// fetchStatus reads one status, year-by-year (most recent first) when
// recent_first is set, in natural store order otherwise.
func (s *Selector) fetchStatus(ctx context.Context, status document.Status, opts Options) ([]*document.Document, error) {
	if !opts.RecentFirst {
		return s.store.DocumentsByStatus(ctx, status, "")
	}

	years, err := s.store.YearsForStatus(ctx, status)
	if err != nil {
		return nil, err
	}

	var out []*document.Document
	for _, year := range years {
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		batch, err := s.store.DocumentsByStatus(ctx, status, year)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// dedupeLastWins removes id duplicates, keeping each document's last
// occurrence in place.
func dedupeLastWins(docs []*document.Document) []*document.Document {
	remaining := make(map[string]int, len(docs))
	for _, doc := range docs {
		remaining[doc.ID]++
	}

	out := make([]*document.Document, 0, len(remaining))
	for _, doc := range docs {
		remaining[doc.ID]--
		if remaining[doc.ID] == 0 {
			out = append(out, doc)
		}
	}
	return out
}

func applyFilters(docs []*document.Document, f Filters) []*document.Document {
	if f.Agency == "" && f.Report == "" && f.Year == 0 && f.FromYear == 0 && f.ToYear == 0 {
		return docs
	}

	out := docs[:0]
	for _, doc := range docs {
		if f.Agency != "" && doc.Organization != f.Agency {
			continue
		}
		if f.Report != "" && !strings.Contains(doc.Filepath, f.Report) {
			continue
		}
		year := doc.YearInt()
		if f.Year != 0 && year != f.Year {
			continue
		}
		if f.FromYear != 0 && year < f.FromYear {
			continue
		}
		if f.ToYear != 0 && (year == 0 || year > f.ToYear) {
			continue
		}
		out = append(out, doc)
	}
	return out
}
