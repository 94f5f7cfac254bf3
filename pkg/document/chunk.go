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

package document

import (
	"fmt"

	"github.com/google/uuid"
)

// ElementKind discriminates the variants of a chunk element.
type ElementKind string

const (
	ElementText  ElementKind = "text"
	ElementTable ElementKind = "table"
	ElementImage ElementKind = "image"
)

// ChunkElement is one ordered member of a chunk: a text block, a table, or
// an image. Kind selects which of the optional fields are populated; Page
// and PositionHint are shared by all variants and define element order
// within a chunk.
type ChunkElement struct {
	Kind ElementKind `json:"type"`

	// Page the element appears on.
	Page int `json:"page"`

	// PositionHint estimates the element's vertical position on its page
	// in [0,1], 0 meaning top of page.
	PositionHint float64 `json:"position_hint"`

	// Text variant.
	Text             string `json:"text,omitempty"`
	Label            string `json:"label,omitempty"`
	InlineReferences []int  `json:"inline_references,omitempty"`

	// Table variant.
	TableIndex int        `json:"table_index,omitempty"`
	Rows       [][]string `json:"rows,omitempty"`

	// Image variant; ImagePath is also set for tables rendered to images.
	ImagePath string `json:"image_path,omitempty"`
	BBox      *BBox  `json:"bbox,omitempty"`
}

// IsStructural reports whether the element anchors chunk structure: list
// items, section headers, and captions keep an otherwise-short chunk alive.
func (e ChunkElement) IsStructural() bool {
	switch e.Label {
	case "list_item", "section_header", "caption":
		return true
	}
	return e.Kind == ElementTable || e.Kind == ElementImage
}

// ImageRef is the legacy flat view of an image attached to a chunk.
type ImageRef struct {
	Path         string  `json:"path"`
	Page         int     `json:"page"`
	BBox         *BBox   `json:"bbox,omitempty"`
	PositionHint float64 `json:"position_hint"`
}

// TableRef is the legacy flat view of a table attached to a chunk.
type TableRef struct {
	Index     int        `json:"index"`
	Page      int        `json:"page"`
	ImagePath string     `json:"image_path,omitempty"`
	Rows      [][]string `json:"rows,omitempty"`
}

// Chunk is a bounded-token retrieval unit derived from one document. Chunks
// are fully regenerable; deleting a document deletes its chunks.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`

	// Text is the cleaned chunk text with the heading breadcrumb prefix.
	Text string `json:"text"`

	// PageNum is the smallest page number among the element bounding boxes.
	PageNum int `json:"page_num"`

	Headings  []string       `json:"headings,omitempty"`
	ItemTypes []string       `json:"item_types,omitempty"`
	BBoxes    map[int][]BBox `json:"bbox,omitempty"`
	Elements  []ChunkElement `json:"chunk_elements"`

	// Legacy flat views kept for downstream readers.
	Images []ImageRef `json:"images,omitempty"`
	Tables []TableRef `json:"tables,omitempty"`

	NumTokens   int    `json:"num_tokens"`
	SectionType string `json:"section_type,omitempty"`

	// Embedding is held by the vector store, not serialized with the chunk.
	Embedding []float32 `json:"-"`
}

// NewChunkID derives the stable chunk id from the owning document and the
// chunk's position, so re-indexing a document overwrites its prior chunks.
func NewChunkID(documentID string, index int) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s:%d", documentID, index))).String()
}

// Breadcrumb joins the last n headings with " > " for the chunk text prefix.
func Breadcrumb(headings []string, n int) string {
	if len(headings) == 0 {
		return ""
	}
	if len(headings) > n {
		headings = headings[len(headings)-n:]
	}
	out := headings[0]
	for _, h := range headings[1:] {
		out += " > " + h
	}
	return out
}
