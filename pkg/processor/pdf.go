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
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/parsed"
)

// Extraction engine names recorded on parsed documents.
const (
	enginePDF      = "native-pdf"
	engineConvert  = "native-convert"
	engineDocx     = "native-docx"
	engineWorkbook = "native-xlsx"
)

const (
	// baselineTolerance groups runs into one visual line despite sub-point
	// baseline jitter.
	baselineTolerance = 2.0

	// headerSizeRatio is the minimum font-size ratio over body text for a
	// line to count as a section header.
	headerSizeRatio = 1.15

	// maxHeaderRunes rejects long lines from header detection; wrapped
	// body text in a large font is not a heading.
	maxHeaderRunes = 120

	// paragraphGapRatio separates paragraphs: a vertical gap above this
	// many font sizes starts a new text item.
	paragraphGapRatio = 0.75
)

var (
	listMarkerPattern = regexp.MustCompile(`^\s*(•|◦|▪|–|—|-|\*|\(?\d{1,2}[.)])\s+`)
	captionPattern    = regexp.MustCompile(`(?i)^(figure|table|box|chart|map)\s+\d`)
	pageNumberPattern = regexp.MustCompile(`(?i)^\s*(page\s+)?\d{1,4}(\s+of\s+\d{1,4})?\s*$`)
)

// textLine is one assembled visual line with its dominant font size and
// extent in page coordinates.
type textLine struct {
	page     int
	text     string
	fontSize float64
	x0, x1   float64
	top      float64
	bottom   float64
}

// parsePDF extracts positioned text from a PDF into the parsed document
// representation: lines assembled from content-stream runs, section
// headers detected by font size, paragraphs merged by vertical proximity,
// and the outline rendered as the table of contents.
func (p *Parser) parsePDF(path, stem string) (*parsed.Artifacts, error) {
	f, reader, err := openPDF(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc := &parsed.Document{Name: stem, Engine: enginePDF, Pages: map[int]parsed.Page{}}
	var lines []textLine
	total := reader.NumPage()
	for pageNum := 1; pageNum <= total; pageNum++ {
		runs, width, height, err := extractPage(reader, pageNum)
		if err != nil {
			// One damaged page does not fail the document.
			p.logger.Warn("Failed to extract page", "page", pageNum, "error", err)
			continue
		}
		doc.Pages[pageNum] = parsed.Page{Number: pageNum, Width: width, Height: height}
		lines = append(lines, assembleLines(pageNum, runs)...)
	}

	doc.Items = buildItems(lines, bodyFontSize(lines))
	return &parsed.Artifacts{
		Doc:    doc,
		Images: parsed.ImagesByPage{},
		TOC:    outlineTOC(reader),
	}, nil
}

// openPDF wraps the library's open, which panics on some malformed files.
func openPDF(path string) (f *os.File, reader *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("failed to open pdf: %v", rec)
		}
	}()
	f, reader, err = pdf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	return f, reader, nil
}

// extractPage pulls the positioned text runs and geometry for one page,
// converting content-stream panics into errors.
func extractPage(reader *pdf.Reader, pageNum int) (runs []pdf.Text, width, height float64, err error) {
	width, height = 612, 792
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("content extraction failed: %v", rec)
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return nil, width, height, nil
	}
	if w, h, ok := mediaBox(page); ok {
		width, height = w, h
	}
	return page.Content().Text, width, height, nil
}

// mediaBox resolves the page size, following the Parent chain for
// inherited attributes.
func mediaBox(page pdf.Page) (width, height float64, ok bool) {
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		mb := v.Key("MediaBox")
		if mb.IsNull() || mb.Len() != 4 {
			continue
		}
		width = mb.Index(2).Float64() - mb.Index(0).Float64()
		height = mb.Index(3).Float64() - mb.Index(1).Float64()
		return width, height, width > 0 && height > 0
	}
	return 0, 0, false
}

// assembleLines groups runs sharing a baseline into visual lines. Wide
// horizontal gaps become double spaces so downstream cleaning can still
// see column boundaries.
func assembleLines(page int, runs []pdf.Text) []textLine {
	filtered := make([]pdf.Text, 0, len(runs))
	for _, r := range runs {
		if r.S == "" {
			continue
		}
		filtered = append(filtered, r)
	}
	if len(filtered) == 0 {
		return nil
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Y != filtered[j].Y {
			return filtered[i].Y > filtered[j].Y
		}
		return filtered[i].X < filtered[j].X
	})

	var lines []textLine
	group := []pdf.Text{filtered[0]}
	for _, r := range filtered[1:] {
		if math.Abs(r.Y-group[0].Y) <= baselineTolerance {
			group = append(group, r)
			continue
		}
		if ln, ok := buildLine(page, group); ok {
			lines = append(lines, ln)
		}
		group = []pdf.Text{r}
	}
	if ln, ok := buildLine(page, group); ok {
		lines = append(lines, ln)
	}
	return lines
}

func buildLine(page int, group []pdf.Text) (textLine, bool) {
	sort.SliceStable(group, func(i, j int) bool { return group[i].X < group[j].X })

	ln := textLine{page: page, x0: group[0].X}
	var b strings.Builder
	var prevEnd float64
	for i, r := range group {
		size := r.FontSize
		if size <= 0 {
			size = 10
		}
		if i > 0 {
			gap := r.X - prevEnd
			switch {
			case gap > size:
				b.WriteString("  ")
			case gap > 0.25*size:
				b.WriteString(" ")
			}
		}
		b.WriteString(r.S)
		prevEnd = r.X + r.W
		if size > ln.fontSize {
			ln.fontSize = size
		}
		if r.X < ln.x0 {
			ln.x0 = r.X
		}
		if r.X+r.W > ln.x1 {
			ln.x1 = r.X + r.W
		}
	}

	ln.text = strings.TrimSpace(b.String())
	if ln.text == "" {
		return textLine{}, false
	}
	baseline := group[0].Y
	ln.top = baseline + 0.8*ln.fontSize
	ln.bottom = baseline - 0.2*ln.fontSize
	return ln, true
}

// bodyFontSize returns the dominant font size weighted by text length,
// which approximates the body text size of the document.
func bodyFontSize(lines []textLine) float64 {
	weights := map[float64]int{}
	for _, ln := range lines {
		size := math.Round(ln.fontSize*2) / 2
		if size <= 0 {
			continue
		}
		weights[size] += len(ln.text)
	}
	body, best := 11.0, -1
	for size, weight := range weights {
		if weight > best || (weight == best && size < body) {
			body, best = size, weight
		}
	}
	return body
}

func isHeaderLine(ln textLine, bodySize float64) bool {
	if ln.fontSize < bodySize*headerSizeRatio {
		return false
	}
	if utf8.RuneCountInString(ln.text) > maxHeaderRunes {
		return false
	}
	if listMarkerPattern.MatchString(ln.text) || captionPattern.MatchString(ln.text) {
		return false
	}
	return true
}

// paragraph accumulates consecutive body lines into one text item.
type paragraph struct {
	page       int
	parts      []string
	fontSize   float64
	x0, x1     float64
	top        float64
	bottom     float64
	lastBottom float64
}

// buildItems classifies lines into parsed items: headers by font size
// (levels ranked by size), list items and captions by markers, standalone
// page numbers dropped, and remaining lines merged into paragraphs by
// vertical proximity.
func buildItems(lines []textLine, bodySize float64) []parsed.Item {
	headerSizes := map[float64]bool{}
	for _, ln := range lines {
		if isHeaderLine(ln, bodySize) {
			headerSizes[math.Round(ln.fontSize*2)/2] = true
		}
	}
	ranked := make([]float64, 0, len(headerSizes))
	for size := range headerSizes {
		ranked = append(ranked, size)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ranked)))
	levelOf := func(size float64) int {
		size = math.Round(size*2) / 2
		for i, s := range ranked {
			if size == s {
				if i > 2 {
					return 3
				}
				return i + 1
			}
		}
		return 1
	}

	var items []parsed.Item
	nextRef := func() string { return fmt.Sprintf("#/items/%d", len(items)) }

	var para *paragraph
	flush := func() {
		if para == nil {
			return
		}
		items = append(items, parsed.Item{
			Ref:   nextRef(),
			Kind:  parsed.ItemText,
			Label: "text",
			Text:  strings.Join(para.parts, " "),
			Page:  para.page,
			BBox:  &document.BBox{Left: para.x0, Top: para.top, Right: para.x1, Bottom: para.bottom},
		})
		para = nil
	}

	for _, ln := range lines {
		bbox := &document.BBox{Left: ln.x0, Top: ln.top, Right: ln.x1, Bottom: ln.bottom}
		switch {
		case pageNumberPattern.MatchString(ln.text):
			flush()

		case isHeaderLine(ln, bodySize):
			flush()
			items = append(items, parsed.Item{
				Ref:   nextRef(),
				Kind:  parsed.ItemSectionHeader,
				Label: "section_header",
				Text:  ln.text,
				Level: levelOf(ln.fontSize),
				Page:  ln.page,
				BBox:  bbox,
			})

		case listMarkerPattern.MatchString(ln.text):
			flush()
			loc := listMarkerPattern.FindStringSubmatchIndex(ln.text)
			items = append(items, parsed.Item{
				Ref:    nextRef(),
				Kind:   parsed.ItemListItem,
				Label:  "list_item",
				Marker: ln.text[loc[2]:loc[3]],
				Text:   strings.TrimSpace(ln.text[loc[1]:]),
				Page:   ln.page,
				BBox:   bbox,
			})

		case captionPattern.MatchString(ln.text):
			flush()
			items = append(items, parsed.Item{
				Ref:   nextRef(),
				Kind:  parsed.ItemText,
				Label: "caption",
				Text:  ln.text,
				Page:  ln.page,
				BBox:  bbox,
			})

		default:
			if para != nil {
				sameBlock := ln.page == para.page &&
					para.lastBottom-ln.top <= paragraphGapRatio*ln.fontSize &&
					math.Abs(ln.fontSize-para.fontSize) <= 1
				if !sameBlock {
					flush()
				}
			}
			if para == nil {
				para = &paragraph{
					page: ln.page, fontSize: ln.fontSize,
					x0: ln.x0, x1: ln.x1, top: ln.top, bottom: ln.bottom,
				}
			}
			para.parts = append(para.parts, ln.text)
			if ln.x0 < para.x0 {
				para.x0 = ln.x0
			}
			if ln.x1 > para.x1 {
				para.x1 = ln.x1
			}
			if ln.bottom < para.bottom {
				para.bottom = ln.bottom
			}
			para.lastBottom = ln.bottom
		}
	}
	flush()
	return items
}

// outlineTOC renders the PDF outline as an indented table of contents.
// Outline access panics on some files; those fall back to the derived TOC.
func outlineTOC(reader *pdf.Reader) (toc string) {
	defer func() {
		if rec := recover(); rec != nil {
			toc = ""
		}
	}()

	var b strings.Builder
	var walk func(outline pdf.Outline, depth int)
	walk = func(outline pdf.Outline, depth int) {
		if title := strings.TrimSpace(outline.Title); title != "" {
			if depth > 1 {
				b.WriteString(strings.Repeat("  ", depth-1))
			}
			b.WriteString(title)
			b.WriteString("\n")
		}
		for _, child := range outline.Child {
			walk(child, depth+1)
		}
	}
	walk(reader.Outline(), 0)
	return b.String()
}
