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

// Package document defines the document and chunk records that flow through
// the pipeline, together with the lifecycle status machine that gates stage
// execution.
package document

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idNamespace seeds the UUIDv5 derivation for document and chunk ids so the
// same file always maps to the same record across runs.
var idNamespace = uuid.MustParse("8c2e9d4a-41f7-5b38-9f1e-6a0c2d7b5e91")

// Document is a single evaluation report tracked by the pipeline.
type Document struct {
	// ID is the stable identifier, derived from source and filepath.
	ID string `json:"id"`

	// Source names the data source the document belongs to.
	Source string `json:"source"`

	// Metadata captured at download or scan time.
	Title         string `json:"title,omitempty"`
	Organization  string `json:"organization,omitempty"`
	PublishedYear string `json:"published_year,omitempty"`
	DocumentType  string `json:"document_type,omitempty"`
	Country       string `json:"country,omitempty"`
	Language      string `json:"language,omitempty"`
	Filepath      string `json:"filepath,omitempty"`
	PDFURL        string `json:"pdf_url,omitempty"`

	// Lifecycle fields written by the stage machine and the supervisor.
	Status       Status                `json:"status"`
	ErrorMessage string                `json:"error_message,omitempty"`
	ParsedFolder string                `json:"parsed_folder,omitempty"`
	Stages       map[Stage]StageResult `json:"stages,omitempty"`

	// Computed fields filled in by the stage processors.
	PageCount     int     `json:"page_count,omitempty"`
	WordCount     int     `json:"word_count,omitempty"`
	ChunkCount    int     `json:"chunk_count,omitempty"`
	FileFormat    string  `json:"file_format,omitempty"`
	FileSizeMB    float64 `json:"file_size_mb,omitempty"`
	TOC           string  `json:"toc,omitempty"`
	TOCClassified string  `json:"toc_classified,omitempty"`
	FullSummary   string  `json:"full_summary,omitempty"`

	PipelineElapsedSeconds float64 `json:"pipeline_elapsed_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NewID derives the stable document id for a file within a data source.
func NewID(source, relPath string) string {
	return uuid.NewSHA1(idNamespace, []byte(source+":"+filepath.ToSlash(relPath))).String()
}

// YearInt returns PublishedYear as an integer, or 0 when it is missing or
// not a number. Selector ordering relies on the 0 fallback.
func (d *Document) YearInt() int {
	y, err := strconv.Atoi(strings.TrimSpace(d.PublishedYear))
	if err != nil {
		return 0
	}
	return y
}

// Stem returns the document's file name without directory or extension,
// which names the per-document parsed artifact folder.
func (d *Document) Stem() string {
	base := filepath.Base(d.Filepath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// StageRecord returns the recorded result for a stage, if present.
func (d *Document) StageRecord(s Stage) (StageResult, bool) {
	if d.Stages == nil {
		return StageResult{}, false
	}
	r, ok := d.Stages[s]
	return r, ok
}

// SetStageRecord merges a stage result into the document's stage map.
func (d *Document) SetStageRecord(s Stage, r StageResult) {
	if d.Stages == nil {
		d.Stages = make(map[Stage]StageResult, len(PipelineStages))
	}
	d.Stages[s] = r
}

// BBox is an axis-aligned bounding box in page coordinates with the origin
// at the bottom-left, as produced by the extraction engines. Top is the
// distance of the box's upper edge from the page bottom.
type BBox struct {
	Left   float64 `json:"l"`
	Top    float64 `json:"t"`
	Right  float64 `json:"r"`
	Bottom float64 `json:"b"`
}

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 {
	return b.Top - b.Bottom
}

// OverlapsY reports whether two boxes overlap vertically after expanding
// this box by tolerance on both ends.
func (b BBox) OverlapsY(other BBox, tolerance float64) bool {
	return b.Top+tolerance >= other.Bottom && b.Bottom-tolerance <= other.Top
}
