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

package chunker

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/parsed"
)

// tableEntry carries one table item's provenance plus its ordinal index
// within the document. The index keys the table-images sidecar.
type tableEntry struct {
	index        int
	page         int
	positionHint float64
	rows         [][]string
	imagePath    string
}

// tableIndex holds every table in the document, addressable by the item's
// self-reference and iterable in document order.
type tableIndex struct {
	byRef   map[string]*tableEntry
	ordered []*tableEntry
}

func buildTableIndex(doc *parsed.Document, tableImages []parsed.TableImageMeta) *tableIndex {
	images := make(map[int]string, len(tableImages))
	for _, ti := range tableImages {
		if _, ok := images[ti.TableIndex]; !ok {
			images[ti.TableIndex] = ti.Path
		}
	}

	idx := &tableIndex{byRef: make(map[string]*tableEntry)}
	for i := range doc.Items {
		it := &doc.Items[i]
		if it.Kind != parsed.ItemTable {
			continue
		}
		entry := &tableEntry{
			index:        len(idx.ordered),
			page:         it.Page,
			positionHint: positionHint(doc, it),
			rows:         it.Cells,
		}
		entry.imagePath = images[entry.index]
		idx.byRef[it.Ref] = entry
		idx.ordered = append(idx.ordered, entry)
	}
	return idx
}

// positionHint estimates an item's vertical position on its page in [0,1],
// 0 at the top, rounded to two decimals.
func positionHint(doc *parsed.Document, it *parsed.Item) float64 {
	if it.BBox == nil {
		return 0
	}
	height := doc.PageHeight(it.Page)
	if height <= 0 {
		return 0
	}
	return roundHint((height - it.BBox.Top) / height)
}

func roundHint(v float64) float64 {
	return math.Round(v*100) / 100
}

func tableElement(entry *tableEntry) document.ChunkElement {
	return document.ChunkElement{
		Kind:         document.ElementTable,
		Page:         entry.page,
		PositionHint: entry.positionHint,
		TableIndex:   entry.index,
		Rows:         entry.rows,
		ImagePath:    entry.imagePath,
	}
}

func textElement(it *parsed.Item, text string, doc *parsed.Document) document.ChunkElement {
	return document.ChunkElement{
		Kind:         document.ElementText,
		Page:         it.Page,
		PositionHint: positionHint(doc, it),
		Text:         text,
		Label:        textLabel(it),
	}
}

func textLabel(it *parsed.Item) string {
	switch it.Kind {
	case parsed.ItemSectionHeader:
		return "section_header"
	case parsed.ItemListItem:
		return "list_item"
	}
	if it.Label != "" {
		return it.Label
	}
	return "text"
}

// flattenCells renders table cells as searchable text: cells joined with
// " | " within a row, rows separated by newlines.
func flattenCells(cells [][]string) string {
	rows := make([]string, 0, len(cells))
	for _, row := range cells {
		rows = append(rows, strings.Join(row, " | "))
	}
	return strings.Join(rows, "\n")
}

// Table extractors leave bookkeeping strings in the text stream. Elements
// that are nothing but these markers are dropped; markers embedded in real
// text are stripped.
var extractionMetadataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)best match \(score[^)]*\)`),
	regexp.MustCompile(`(?i)\[sheet:[^\]]*\]`),
}

func stripExtractionMetadata(text string) string {
	for _, pattern := range extractionMetadataPatterns {
		text = pattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// adhocTable attributes a table to a chunk that carries none but quotes
// two or more of its cell texts. Extraction sometimes detaches a table
// from the paragraph discussing it; this heuristic reconnects them. Cells
// shorter than three characters are ignored so bare numbers cannot match.
func adhocTable(chunkText string, tables *tableIndex) *tableEntry {
	if chunkText == "" {
		return nil
	}
	lower := strings.ToLower(chunkText)
	for _, entry := range tables.ordered {
		matches := 0
		seen := map[string]bool{}
		for _, row := range entry.rows {
			for _, cell := range row {
				cellText := strings.ToLower(strings.TrimSpace(cell))
				if len(cellText) < 3 || seen[cellText] {
					continue
				}
				if strings.Contains(lower, cellText) {
					seen[cellText] = true
					matches++
					if matches >= 2 {
						return entry
					}
				}
			}
		}
	}
	return nil
}

var captionKeywords = []string{"figure", "table", "diagram"}

func hasCaptionKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range captionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// captionTolerance widens the text Y-range when the chunk mentions a
// figure, table, or diagram: captions sit adjacent to the visual they
// describe, not inside its extent.
const captionTolerance = 250.0

// selectImages picks sidecar images whose vertical extent overlaps the
// chunk's text on the same page.
func selectImages(raw rawChunk, images parsed.ImagesByPage, chunkText string) []document.ChunkElement {
	if len(images) == 0 {
		return nil
	}

	ranges := map[int]*document.BBox{}
	for _, ci := range raw.items {
		it := ci.item
		if it == nil || it.BBox == nil || !it.IsTextLike() {
			continue
		}
		rng := ranges[it.Page]
		if rng == nil {
			box := *it.BBox
			ranges[it.Page] = &box
			continue
		}
		if it.BBox.Top > rng.Top {
			rng.Top = it.BBox.Top
		}
		if it.BBox.Bottom < rng.Bottom {
			rng.Bottom = it.BBox.Bottom
		}
	}
	if len(ranges) == 0 {
		return nil
	}

	tolerance := 0.0
	if hasCaptionKeyword(chunkText) {
		tolerance = captionTolerance
	}

	pages := make([]int, 0, len(ranges))
	for page := range ranges {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	var out []document.ChunkElement
	for _, page := range pages {
		rng := ranges[page]
		for _, img := range images[page] {
			if !rng.OverlapsY(img.BBox, tolerance) {
				continue
			}
			box := img.BBox
			out = append(out, document.ChunkElement{
				Kind:         document.ElementImage,
				Page:         page,
				PositionHint: img.PositionHint,
				ImagePath:    img.Path,
				BBox:         &box,
			})
		}
	}
	return out
}

// sortElements orders chunk elements by page, then top-down within the
// page (position hint 0 is the top).
func sortElements(elements []document.ChunkElement) {
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Page != elements[j].Page {
			return elements[i].Page < elements[j].Page
		}
		return elements[i].PositionHint < elements[j].PositionHint
	})
}

// dropLeadingImages removes images sorted ahead of the first non-caption
// text element; they belong to the previous chunk's visual.
func dropLeadingImages(elements []document.ChunkElement) []document.ChunkElement {
	firstText := -1
	for i := range elements {
		if elements[i].Kind == document.ElementText && elements[i].Label != "caption" {
			firstText = i
			break
		}
	}
	if firstText <= 0 {
		return elements
	}
	kept := elements[:0]
	for i := range elements {
		if i < firstText && elements[i].Kind == document.ElementImage {
			continue
		}
		kept = append(kept, elements[i])
	}
	return kept
}

func hasStructuralElement(elements []document.ChunkElement) bool {
	for i := range elements {
		if elements[i].IsStructural() {
			return true
		}
	}
	return false
}
