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
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/parsed"
)

// Parser extracts the structured text representation from a downloaded
// document and persists it as a parsed folder of artifacts.
type Parser struct {
	layout         document.Layout
	convertTimeout time.Duration
	logger         *slog.Logger
}

// NewParser builds the parse stage processor for one data source layout.
func NewParser(layout document.Layout, cfg *config.PipelineConfig) *Parser {
	return &Parser{
		layout:         layout,
		convertTimeout: cfg.ConvertTimeout,
		logger:         logger.GetLogger().With("component", "parser"),
	}
}

// Process parses the document's source file, writes the parsed folder,
// and returns the field updates recorded on success.
func (p *Parser) Process(ctx context.Context, doc *document.Document) (map[string]any, error) {
	path := p.layout.Abs(doc.Filepath)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("source file not found: %w", err)
	}

	stem := doc.Stem()
	ext := strings.ToLower(filepath.Ext(path))

	var art *parsed.Artifacts
	switch ext {
	case ".pdf":
		art, err = p.parsePDF(path, stem)
	case ".docx", ".doc":
		art, err = p.parseOffice(ctx, path, stem, ext)
	case ".xlsx":
		art, err = p.parseWorkbook(path, stem)
	default:
		return nil, fmt.Errorf("unsupported file format: %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(art.Doc.Items) == 0 {
		return nil, fmt.Errorf("no content extracted from %s", filepath.Base(path))
	}

	rel := p.layout.ParsedFolderRel(doc)
	if err := art.Save(p.layout.Abs(rel), stem); err != nil {
		return nil, err
	}

	// The embedded outline is authoritative; fall back to detected headers.
	toc := art.TOC
	if strings.TrimSpace(toc) == "" {
		toc = art.Doc.TOC()
	}

	return map[string]any{
		"parsed_folder": rel,
		"page_count":    art.Doc.PageCount(),
		"word_count":    art.Doc.WordCount(),
		"file_format":   strings.TrimPrefix(ext, "."),
		"file_size_mb":  math.Round(float64(info.Size())/(1024*1024)*100) / 100,
		"toc":           toc,
	}, nil
}
