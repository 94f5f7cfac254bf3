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
	"errors"
	"fmt"
	"html"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/docpipe/pkg/parsed"
)

// maxSheetRows caps how much of a spreadsheet is extracted per sheet.
const maxSheetRows = 500

var xmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// parseOffice handles Word documents by converting them to PDF with
// LibreOffice and running the PDF engine on the result. When conversion
// fails for a .docx, its raw text is extracted directly as a fallback;
// legacy .doc files have no fallback.
func (p *Parser) parseOffice(ctx context.Context, path, stem, ext string) (*parsed.Artifacts, error) {
	pdfPath, cleanup, err := p.convertToPDF(ctx, path)
	if err == nil {
		defer cleanup()
		art, perr := p.parsePDF(pdfPath, stem)
		if perr == nil {
			art.Doc.Engine = engineConvert
			return art, nil
		}
		err = perr
	}

	if ext != ".docx" {
		return nil, err
	}
	p.logger.Warn("PDF conversion failed, extracting docx text directly", "error", err)
	return parseDocxText(path, stem)
}

// convertToPDF runs LibreOffice headless against the file and returns the
// converted PDF path with a cleanup func for the scratch directory.
func (p *Parser) convertToPDF(ctx context.Context, path string) (string, func(), error) {
	outDir, err := os.MkdirTemp("", "docpipe-convert-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create conversion dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(outDir) }

	ctx, cancel := context.WithTimeout(ctx, p.convertTimeout)
	defer cancel()

	// Parallel soffice instances clash on a shared user profile.
	profile := "-env:UserInstallation=file://" + filepath.Join(outDir, "profile")
	cmd := exec.CommandContext(ctx, "soffice", "--headless", profile,
		"--convert-to", "pdf", "--outdir", outDir, path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		cleanup()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", nil, fmt.Errorf("conversion timed out after %s", p.convertTimeout)
		}
		return "", nil, fmt.Errorf("conversion failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	base := filepath.Base(path)
	pdfPath := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("conversion produced no output: %w", err)
	}
	return pdfPath, cleanup, nil
}

// parseDocxText extracts paragraph text straight from the docx XML. No
// positions or font sizes survive this path, so every paragraph becomes a
// plain text item on page 1.
func parseDocxText(path, stem string) (*parsed.Artifacts, error) {
	reader, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read docx: %w", err)
	}
	defer reader.Close()

	content := reader.Editable().GetContent()
	doc := &parsed.Document{Name: stem, Engine: engineDocx, Pages: map[int]parsed.Page{}}
	for _, para := range strings.Split(content, "</w:p>") {
		text := strings.TrimSpace(html.UnescapeString(xmlTagPattern.ReplaceAllString(para, " ")))
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			continue
		}
		doc.Items = append(doc.Items, parsed.Item{
			Ref:   fmt.Sprintf("#/items/%d", len(doc.Items)),
			Kind:  parsed.ItemText,
			Label: "text",
			Text:  text,
			Page:  1,
		})
	}
	if len(doc.Items) == 0 {
		return nil, fmt.Errorf("docx contains no extractable text")
	}
	return &parsed.Artifacts{Doc: doc, Images: parsed.ImagesByPage{}}, nil
}

// parseWorkbook flattens a spreadsheet into one text item per sheet, rows
// rendered as pipe-separated cells.
func (p *Parser) parseWorkbook(path, stem string) (*parsed.Artifacts, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	doc := &parsed.Document{Name: stem, Engine: engineWorkbook, Pages: map[int]parsed.Page{}}
	for sheetIdx, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			p.logger.Warn("Failed to read sheet", "sheet", sheet, "error", err)
			continue
		}

		var b strings.Builder
		b.WriteString("[sheet: " + sheet + "]")
		written := 0
		for _, row := range rows {
			if written >= maxSheetRows {
				break
			}
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if c := strings.TrimSpace(cell); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) == 0 {
				continue
			}
			b.WriteString("\n")
			b.WriteString(strings.Join(cells, " | "))
			written++
		}
		if written == 0 {
			continue
		}

		page := sheetIdx + 1
		doc.Pages[page] = parsed.Page{Number: page}
		doc.Items = append(doc.Items, parsed.Item{
			Ref:   fmt.Sprintf("#/items/%d", len(doc.Items)),
			Kind:  parsed.ItemText,
			Label: "text",
			Text:  b.String(),
			Page:  page,
		})
	}
	if len(doc.Items) == 0 {
		return nil, fmt.Errorf("workbook contains no extractable rows")
	}
	return &parsed.Artifacts{Doc: doc, Images: parsed.ImagesByPage{}}, nil
}
