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

// Package parsed models the structured output of a document extraction
// engine: an ordered item list with page provenance, page geometry, and
// sidecar metadata for extracted images and table renders. The chunker
// consumes this representation; both the native engine and external
// engines produce it.
package parsed

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kadirpekel/docpipe/pkg/document"
)

// ItemKind discriminates parsed item variants.
type ItemKind string

const (
	ItemText          ItemKind = "text"
	ItemSectionHeader ItemKind = "section_header"
	ItemListItem      ItemKind = "list_item"
	ItemTable         ItemKind = "table"
	ItemPicture       ItemKind = "picture"
)

// Item is one element of the parsed document in reading order.
type Item struct {
	// Ref is the item's self-reference, unique within the document,
	// e.g. "#/items/12". The table index and text maps key on it.
	Ref string `json:"ref"`

	Kind ItemKind `json:"kind"`

	// Label refines Kind for text-like items: "text", "caption",
	// "footnote", "page_header", "page_footer", "title".
	Label string `json:"label,omitempty"`

	Text string `json:"text,omitempty"`

	// Level is the heading depth for section headers, 1-based.
	Level int `json:"level,omitempty"`

	// Marker is the bullet or number prefix for list items.
	Marker string `json:"marker,omitempty"`

	// Page the item appears on, 1-based.
	Page int `json:"page"`

	BBox *document.BBox `json:"bbox,omitempty"`

	// Cells holds table rows of cell text (table items only).
	Cells [][]string `json:"cells,omitempty"`
}

// IsTextLike reports whether the item carries chunkable text.
func (it *Item) IsTextLike() bool {
	switch it.Kind {
	case ItemText, ItemSectionHeader, ItemListItem:
		return true
	}
	return false
}

// DisplayText returns the item text with the list marker applied, the form
// used when assembling chunk text.
func (it *Item) DisplayText() string {
	if it.Kind == ItemListItem && it.Marker != "" && !strings.HasPrefix(it.Text, it.Marker) {
		return it.Marker + " " + it.Text
	}
	return it.Text
}

// Page describes one page's geometry in points.
type Page struct {
	Number int     `json:"number"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Document is the parsed representation consumed by the chunker.
type Document struct {
	// Name is the artifact stem (file name without extension).
	Name string `json:"name"`

	// Engine names the extraction engine that produced the document.
	Engine string `json:"engine,omitempty"`

	Items []Item       `json:"items"`
	Pages map[int]Page `json:"pages"`
}

// Load reads a parsed document JSON artifact.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parsed document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode parsed document: %w", err)
	}
	return &doc, nil
}

// Save writes the parsed document JSON artifact.
func (d *Document) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode parsed document: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write parsed document: %w", err)
	}
	return nil
}

// PageHeight returns the height of a page, falling back to US Letter when
// the engine did not report geometry.
func (d *Document) PageHeight(page int) float64 {
	if p, ok := d.Pages[page]; ok && p.Height > 0 {
		return p.Height
	}
	return 792
}

// PageCount returns the highest page number seen.
func (d *Document) PageCount() int {
	max := len(d.Pages)
	for n := range d.Pages {
		if n > max {
			max = n
		}
	}
	for i := range d.Items {
		if d.Items[i].Page > max {
			max = d.Items[i].Page
		}
	}
	return max
}

// WordCount returns the whitespace-delimited word total across text items.
func (d *Document) WordCount() int {
	count := 0
	for i := range d.Items {
		if d.Items[i].IsTextLike() {
			count += len(strings.Fields(d.Items[i].Text))
		}
	}
	return count
}

// TextMap returns ref → raw text for every text-like item.
func (d *Document) TextMap() map[string]string {
	m := make(map[string]string)
	for i := range d.Items {
		if d.Items[i].IsTextLike() {
			m[d.Items[i].Ref] = d.Items[i].Text
		}
	}
	return m
}

// FixedTextMap returns ref → display text, with list-item markers filled in.
func (d *Document) FixedTextMap() map[string]string {
	m := make(map[string]string)
	for i := range d.Items {
		if d.Items[i].IsTextLike() {
			m[d.Items[i].Ref] = d.Items[i].DisplayText()
		}
	}
	return m
}

// TOC derives a table of contents from section headers when the engine
// provided no outline: one line per heading, indented by level, with the
// page number appended.
func (d *Document) TOC() string {
	var b strings.Builder
	for i := range d.Items {
		it := &d.Items[i]
		if it.Kind != ItemSectionHeader || strings.TrimSpace(it.Text) == "" {
			continue
		}
		level := it.Level
		if level < 1 {
			level = 1
		}
		b.WriteString(strings.Repeat("  ", level-1))
		b.WriteString(strings.TrimSpace(it.Text))
		fmt.Fprintf(&b, " .... %d\n", it.Page)
	}
	return b.String()
}

// Markdown renders the items as a markdown artifact: headings by level,
// list items with markers, tables as pipe rows.
func (d *Document) Markdown() string {
	var b strings.Builder
	lastPage := 0
	for i := range d.Items {
		it := &d.Items[i]
		if it.Page != lastPage {
			if lastPage != 0 {
				b.WriteString("\n")
			}
			lastPage = it.Page
		}
		switch it.Kind {
		case ItemSectionHeader:
			level := it.Level
			if level < 1 {
				level = 1
			}
			if level > 6 {
				level = 6
			}
			b.WriteString(strings.Repeat("#", level))
			b.WriteString(" ")
			b.WriteString(it.Text)
			b.WriteString("\n\n")
		case ItemListItem:
			b.WriteString("- ")
			b.WriteString(it.Text)
			b.WriteString("\n")
		case ItemTable:
			writeMarkdownTable(&b, it.Cells)
		case ItemText:
			if strings.TrimSpace(it.Text) == "" {
				continue
			}
			b.WriteString(it.Text)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func writeMarkdownTable(b *strings.Builder, cells [][]string) {
	if len(cells) == 0 {
		return
	}
	for rowIdx, row := range cells {
		b.WriteString("| ")
		b.WriteString(strings.Join(row, " | "))
		b.WriteString(" |\n")
		if rowIdx == 0 {
			b.WriteString("|")
			b.WriteString(strings.Repeat(" --- |", len(row)))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
}

// SortItems orders items by (page, descending bbox top), the reading order
// assumed by the chunker. Items without geometry keep their relative order.
func (d *Document) SortItems() {
	sort.SliceStable(d.Items, func(i, j int) bool {
		a, b := &d.Items[i], &d.Items[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.BBox == nil || b.BBox == nil {
			return false
		}
		return a.BBox.Top > b.BBox.Top
	})
}
