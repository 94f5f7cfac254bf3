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

// Package chunker turns parsed documents into bounded-token retrieval
// chunks. Items are grouped under their heading trail, split only when a
// chunk would exceed the token budget, and merged back when adjacent
// chunks share a trail and fit together. Each chunk carries cleaned text
// with a heading breadcrumb prefix, ordered tagged elements (text, table,
// image), and page provenance.
package chunker

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/parsed"
)

// minChunkChars is the drop threshold: shorter chunks survive only when
// they contain a structural element.
const minChunkChars = 100

// TokenCounter counts text length under the embedding model's tokenizer.
type TokenCounter interface {
	Count(text string) int
}

// Chunker assembles chunks bounded by maxTokens under counter.
type Chunker struct {
	counter   TokenCounter
	maxTokens int
	logger    *slog.Logger
}

func New(counter TokenCounter, maxTokens int) *Chunker {
	if maxTokens < 1 {
		maxTokens = 512
	}
	return &Chunker{
		counter:   counter,
		maxTokens: maxTokens,
		logger:    logger.GetLogger().With("component", "chunker"),
	}
}

// chunkItem is one source item's contribution to a chunk. Oversized items
// are split into several chunkItems sharing the same source item.
type chunkItem struct {
	item   *parsed.Item
	text   string // cleaned display text; flattened cell text for tables
	tokens int
}

// rawChunk is a chunk under assembly: items plus the heading trail active
// when they were read.
type rawChunk struct {
	trail  []string
	items  []chunkItem
	tokens int // body tokens, excluding the breadcrumb line
}

// Chunk converts parsed artifacts into chunks for one document.
func (c *Chunker) Chunk(art *parsed.Artifacts, docID string) []*document.Chunk {
	doc := art.Doc
	doc.SortItems()

	candidates := c.slice(doc)
	merged := c.mergePeers(candidates)

	tables := buildTableIndex(doc, art.TableImages)

	chunks := make([]*document.Chunk, 0, len(merged))
	for _, raw := range merged {
		if chunk := c.assemble(raw, doc, tables, art.Images, docID); chunk != nil {
			chunks = append(chunks, chunk)
		}
	}

	registry := buildFootnoteRegistry(chunks)
	out := chunks[:0]
	for _, chunk := range chunks {
		registry.scopeChunkFootnotes(chunk)
		if len(chunk.Elements) == 0 {
			continue
		}
		c.finalize(chunk)
		out = append(out, chunk)
	}

	c.logger.Info("Chunked document", "document_id", docID, "chunks", len(out))
	return out
}

// slice walks the items in reading order and produces one candidate chunk
// per item, tracking the heading trail. Section headers reset the trail at
// their level and open the section they head. Pictures are skipped here;
// images attach later through the sidecar spatial filter.
func (c *Chunker) slice(doc *parsed.Document) []rawChunk {
	var trail []string
	var out []rawChunk

	appendCandidate := func(it *parsed.Item, text string) {
		tokens := c.counter.Count(text)
		out = append(out, rawChunk{
			trail:  trail,
			items:  []chunkItem{{item: it, text: text, tokens: tokens}},
			tokens: tokens,
		})
	}

	for i := range doc.Items {
		it := &doc.Items[i]
		switch it.Kind {
		case parsed.ItemPicture:
			continue
		case parsed.ItemSectionHeader:
			text := CleanText(strings.TrimSpace(it.Text))
			if text == "" {
				continue
			}
			trail = pushHeading(trail, it.Level, text)
			appendCandidate(it, text)
		case parsed.ItemTable:
			if len(it.Cells) == 0 {
				continue
			}
			appendCandidate(it, CleanText(flattenCells(it.Cells)))
		default:
			text := CleanText(it.DisplayText())
			if strings.TrimSpace(text) == "" {
				continue
			}
			budget := c.maxTokens - c.trailTokens(trail)
			if c.counter.Count(text) <= budget {
				appendCandidate(it, text)
				continue
			}
			for _, piece := range c.splitOversized(text, budget) {
				appendCandidate(it, piece)
			}
		}
	}
	return out
}

// pushHeading truncates the trail to the header's parent depth and appends
// the header. The returned slice is freshly allocated so earlier chunks
// keep their trail snapshots.
func pushHeading(trail []string, level int, text string) []string {
	if level < 1 {
		level = 1
	}
	depth := level - 1
	if depth > len(trail) {
		depth = len(trail)
	}
	next := make([]string, 0, depth+1)
	next = append(next, trail[:depth]...)
	return append(next, text)
}

// trailTokens is the token cost of the breadcrumb line a chunk under this
// trail will carry.
func (c *Chunker) trailTokens(trail []string) int {
	crumb := document.Breadcrumb(trail, 3)
	if crumb == "" {
		return 0
	}
	return c.counter.Count("-- " + crumb + " --\n")
}

// mergePeers joins adjacent candidates that share a heading trail while
// the combined body plus breadcrumb stays within the token budget.
func (c *Chunker) mergePeers(candidates []rawChunk) []rawChunk {
	var out []rawChunk
	for _, cand := range candidates {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if sameTrail(last.trail, cand.trail) &&
				last.tokens+cand.tokens+c.trailTokens(cand.trail) <= c.maxTokens {
				last.items = append(last.items, cand.items...)
				last.tokens += cand.tokens
				continue
			}
		}
		out = append(out, cand)
	}
	return out
}

func sameTrail(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// splitOversized breaks one item's text on sentence boundaries into pieces
// fitting the budget. A single sentence over the budget is emitted whole;
// the overrun is logged at assembly.
func (c *Chunker) splitOversized(text string, budget int) []string {
	if budget < 1 {
		budget = c.maxTokens
	}

	var parts []string
	var buf strings.Builder
	bufTokens := 0
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			parts = append(parts, s)
		}
		buf.Reset()
		bufTokens = 0
	}

	for _, sentence := range splitSentences(text) {
		tokens := c.counter.Count(sentence)
		if bufTokens > 0 && bufTokens+tokens > budget {
			flush()
		}
		if tokens > budget {
			flush()
			parts = append(parts, strings.TrimSpace(sentence))
			continue
		}
		buf.WriteString(sentence)
		bufTokens += tokens
	}
	flush()
	return parts
}

// splitSentences cuts after sentence punctuation followed by whitespace.
// Decimal points and abbreviation-internal dots stay intact because they
// are not followed by whitespace.
func splitSentences(text string) []string {
	var parts []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			next := text[i+1]
			if next == ' ' || next == '\n' || next == '\t' {
				parts = append(parts, text[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

// assemble builds a chunk from a raw candidate: elements, provenance, the
// table/image association heuristics, and the short-chunk drop rule. The
// chunk text set here is provisional; finalize rebuilds it after footnote
// scoping.
func (c *Chunker) assemble(raw rawChunk, doc *parsed.Document, tables *tableIndex, images parsed.ImagesByPage, docID string) *document.Chunk {
	var elements []document.ChunkElement
	bboxes := map[int][]document.BBox{}
	var body []string
	hasTable := false

	for _, ci := range raw.items {
		it := ci.item
		if it.BBox != nil {
			bboxes[it.Page] = append(bboxes[it.Page], *it.BBox)
		}
		if it.Kind == parsed.ItemTable {
			entry := tables.byRef[it.Ref]
			if entry == nil {
				continue
			}
			elements = append(elements, tableElement(entry))
			body = append(body, ci.text)
			hasTable = true
			continue
		}
		text := stripExtractionMetadata(ci.text)
		if text == "" {
			continue
		}
		elements = append(elements, textElement(it, text, doc))
		body = append(body, text)
	}

	chunkText := strings.Join(body, "\n")

	if !hasTable {
		if entry := adhocTable(chunkText, tables); entry != nil {
			elements = append(elements, tableElement(entry))
		}
	}

	elements = append(elements, selectImages(raw, images, chunkText)...)
	sortElements(elements)
	elements = dropLeadingImages(elements)

	if utf8.RuneCountInString(chunkText) < minChunkChars && !hasStructuralElement(elements) {
		return nil
	}

	return &document.Chunk{
		DocumentID: docID,
		Headings:   raw.trail,
		Elements:   elements,
		BBoxes:     bboxes,
		Text:       chunkText,
	}
}

// finalize re-sorts elements after footnote scoping, rebuilds the chunk
// text with the breadcrumb prefix, and fills the derived fields.
func (c *Chunker) finalize(chunk *document.Chunk) {
	sortElements(chunk.Elements)

	var body []string
	var itemTypes []string
	seenTypes := map[string]bool{}
	pageNum := 0
	var images []document.ImageRef
	var tableRefs []document.TableRef

	for i := range chunk.Elements {
		el := &chunk.Elements[i]
		if el.Page > 0 && (pageNum == 0 || el.Page < pageNum) {
			pageNum = el.Page
		}
		var itemType string
		switch el.Kind {
		case document.ElementText:
			body = append(body, el.Text)
			itemType = el.Label
			if itemType == "" {
				itemType = "text"
			}
		case document.ElementTable:
			body = append(body, CleanText(flattenCells(el.Rows)))
			itemType = "table"
			tableRefs = append(tableRefs, document.TableRef{
				Index:     el.TableIndex,
				Page:      el.Page,
				ImagePath: el.ImagePath,
				Rows:      el.Rows,
			})
		case document.ElementImage:
			itemType = "picture"
			images = append(images, document.ImageRef{
				Path:         el.ImagePath,
				Page:         el.Page,
				BBox:         el.BBox,
				PositionHint: el.PositionHint,
			})
		}
		if itemType != "" && !seenTypes[itemType] {
			seenTypes[itemType] = true
			itemTypes = append(itemTypes, itemType)
		}
	}

	text := strings.Join(body, "\n")
	if crumb := document.Breadcrumb(chunk.Headings, 3); crumb != "" {
		text = "-- " + crumb + " --\n" + text
	}
	chunk.Text = text
	chunk.PageNum = pageNum
	chunk.ItemTypes = itemTypes
	chunk.Images = images
	chunk.Tables = tableRefs
	chunk.NumTokens = c.counter.Count(text)

	if chunk.NumTokens > c.maxTokens {
		c.logger.Warn("Chunk exceeds token budget",
			"document_id", chunk.DocumentID,
			"page", chunk.PageNum,
			"tokens", chunk.NumTokens,
			"max_tokens", c.maxTokens)
	}
}
