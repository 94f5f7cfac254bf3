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

// Package scanner reconciles downloaded files on disk with the document
// store. Files under the source's pdfs/ tree that the store does not know
// yet are registered with status downloaded; documents whose file has gone
// missing are logged and counted but never deleted, so pipeline state
// survives a partially restored data mount.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/store"
)

// Registry is the slice of the store the scanner needs.
type Registry interface {
	RegisterDocument(ctx context.Context, doc *document.Document) (bool, error)
	SelectDocuments(ctx context.Context, filter store.ListFilter) ([]*document.Document, error)
}

// Summary reports what one scan pass found.
type Summary struct {
	// Files is the number of supported files seen on disk.
	Files int
	// Registered is the number of new documents inserted.
	Registered int
	// Known is the number of files the store already tracked.
	Known int
	// Missing is the number of tracked documents whose file is gone.
	Missing int
}

// Scanner walks one data source's download tree and registers documents.
type Scanner struct {
	source string
	layout document.Layout
	store  Registry
	logger *slog.Logger
}

// New builds a scanner for a data source rooted at the given layout.
func New(source string, layout document.Layout, reg Registry) *Scanner {
	return &Scanner{
		source: source,
		layout: layout,
		store:  reg,
		logger: logger.GetLogger().With("component", "scanner"),
	}
}

// supportedFile reports whether a file name is a document the parse stage
// can handle. Editor lock files and dotfiles are excluded even when their
// extension matches.
func supportedFile(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".docx", ".doc", ".xlsx":
		return true
	}
	return false
}

// Scan walks the download tree, registers every supported file the store
// does not know yet, and then checks tracked documents against the disk.
// A missing download root is not an error: a fresh source that skipped the
// download step simply has nothing to register.
func (s *Scanner) Scan(ctx context.Context) (Summary, error) {
	var sum Summary

	root := s.layout.PDFRoot()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || !supportedFile(d.Name()) {
			return nil
		}

		rel, rerr := filepath.Rel(s.layout.Root(), path)
		if rerr != nil {
			return rerr
		}
		sum.Files++

		doc := s.fileDocument(filepath.ToSlash(rel))
		inserted, rerr := s.store.RegisterDocument(ctx, doc)
		if rerr != nil {
			return fmt.Errorf("registering %s: %w", rel, rerr)
		}
		if inserted {
			sum.Registered++
			s.logger.Debug("Registered document", "doc_id", doc.ID, "filepath", doc.Filepath)
		} else {
			sum.Known++
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("No download directory to scan", "path", root)
		} else {
			return sum, fmt.Errorf("scanning downloads: %w", err)
		}
	}

	missing, err := s.checkTracked(ctx)
	if err != nil {
		return sum, err
	}
	sum.Missing = missing

	s.logger.Info("Scan complete",
		"files", sum.Files,
		"registered", sum.Registered,
		"known", sum.Known,
		"missing", sum.Missing)
	return sum, nil
}

// fileDocument derives the store record for a file from its path relative
// to the source root. Agency and year come from the pdfs/<agency>/<year>/
// hierarchy when the file follows it, mirroring how the parsed-folder
// layout reads the same path.
func (s *Scanner) fileDocument(rel string) *document.Document {
	doc := &document.Document{
		ID:         document.NewID(s.source, rel),
		Source:     s.source,
		Title:      titleFromStem(rel),
		Filepath:   rel,
		Status:     document.StatusDownloaded,
		FileFormat: strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), "."),
	}
	parts := strings.Split(rel, "/")
	if len(parts) >= 4 && parts[0] == document.PDFDirName {
		doc.Organization = parts[1]
		doc.PublishedYear = parts[2]
	}
	return doc
}

// titleFromStem turns a file name into a readable default title. The
// download catalog overwrites it when richer metadata exists.
func titleFromStem(rel string) string {
	base := filepath.Base(rel)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.Join(strings.Fields(strings.ReplaceAll(stem, "_", " ")), " ")
}

// checkTracked counts tracked documents whose file is no longer on disk.
func (s *Scanner) checkTracked(ctx context.Context) (int, error) {
	docs, err := s.store.SelectDocuments(ctx, store.ListFilter{})
	if err != nil {
		return 0, fmt.Errorf("listing tracked documents: %w", err)
	}
	missing := 0
	for _, doc := range docs {
		if doc.Filepath == "" {
			continue
		}
		if _, err := os.Stat(s.layout.Abs(doc.Filepath)); errors.Is(err, fs.ErrNotExist) {
			missing++
			s.logger.Warn("Tracked file missing from disk",
				"doc_id", doc.ID,
				"filepath", doc.Filepath,
				"status", doc.Status)
		}
	}
	return missing, nil
}
