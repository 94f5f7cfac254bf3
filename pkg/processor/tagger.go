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
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/llm"
	"github.com/kadirpekel/docpipe/pkg/logger"
)

// Section types recognized in evaluation reports.
const (
	SectionExecutiveSummary = "executive_summary"
	SectionIntroduction     = "introduction"
	SectionBackground       = "background"
	SectionMethodology      = "methodology"
	SectionFindings         = "findings"
	SectionConclusions      = "conclusions"
	SectionRecommendations  = "recommendations"
	SectionLessonsLearned   = "lessons_learned"
	SectionAnnexes          = "annexes"
	SectionReferences       = "references"
	SectionOther            = "other"
)

// SectionTypes lists every label a chunk or TOC entry can receive.
var SectionTypes = []string{
	SectionExecutiveSummary, SectionIntroduction, SectionBackground,
	SectionMethodology, SectionFindings, SectionConclusions,
	SectionRecommendations, SectionLessonsLearned, SectionAnnexes,
	SectionReferences, SectionOther,
}

// sectionKeywords maps heading phrases to section types. Order is match
// priority: "summary of findings" must land on executive_summary, and
// "conclusions and recommendations" on conclusions.
var sectionKeywords = []struct {
	section  string
	keywords []string
}{
	{SectionExecutiveSummary, []string{"executive summary", "summary"}},
	{SectionLessonsLearned, []string{"lessons learned", "lessons learnt", "lesson"}},
	{SectionConclusions, []string{"conclusion"}},
	{SectionRecommendations, []string{"recommendation"}},
	{SectionMethodology, []string{"methodology", "method", "evaluation design", "approach", "limitations"}},
	{SectionFindings, []string{"finding", "result", "relevance", "effectiveness", "efficiency", "impact", "sustainability", "coherence"}},
	{SectionIntroduction, []string{"introduction", "purpose", "objective", "scope"}},
	{SectionBackground, []string{"background", "context", "programme description", "program description", "project description"}},
	{SectionAnnexes, []string{"annex", "appendix", "appendices", "terms of reference"}},
	{SectionReferences, []string{"reference", "bibliography", "acronym", "abbreviation", "glossary"}},
}

// ClassifySection maps a heading to its section type by keyword lookup.
func ClassifySection(heading string) string {
	h := strings.ToLower(strings.TrimSpace(heading))
	if h == "" {
		return SectionOther
	}
	for _, entry := range sectionKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(h, kw) {
				return entry.section
			}
		}
	}
	return SectionOther
}

// tocPageSuffix matches the trailing dotted page reference on a TOC line.
var tocPageSuffix = regexp.MustCompile(`\s*\.{3,}\s*(\d+)\s*$`)

// tocEntry is one classified table-of-contents line.
type tocEntry struct {
	Text        string `json:"text"`
	Page        int    `json:"page,omitempty"`
	SectionType string `json:"section_type"`
}

// PayloadWriter merges fields into existing chunk payloads in the vector
// store.
type PayloadWriter interface {
	UpdateChunkPayload(ctx context.Context, chunkIDs []string, fields map[string]any, wait bool) error
}

// Tagger classifies document structure: the tag stage labels TOC entries
// with section types, and the post-index pass labels chunks.
type Tagger struct {
	mode   string
	store  PayloadWriter
	client llm.Client
	logger *slog.Logger
}

// NewTagger builds the tag stage processor. client may be nil; the tagger
// then stays on the keyword classifier regardless of configuration.
func NewTagger(cfg *config.PipelineConfig, store PayloadWriter, client llm.Client) *Tagger {
	log := logger.GetLogger().With("component", "tagger")
	mode := cfg.ChunkTagger
	if mode == config.ChunkTaggerLLM && client == nil {
		log.Warn("LLM chunk tagger configured without an LLM client, using keyword classifier")
		mode = config.ChunkTaggerKeyword
	}
	return &Tagger{mode: mode, store: store, client: client, logger: log}
}

// Process classifies the document's table of contents and returns the
// toc_classified update as a JSON array of labeled entries. A document
// without a TOC tags successfully with an empty classification.
func (t *Tagger) Process(_ context.Context, doc *document.Document) (map[string]any, error) {
	entries := classifyTOC(doc.TOC)
	if len(entries) == 0 {
		return map[string]any{"toc_classified": ""}, nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode classified toc: %w", err)
	}
	return map[string]any{"toc_classified": string(data)}, nil
}

func classifyTOC(toc string) []tocEntry {
	var entries []tocEntry
	for _, line := range strings.Split(toc, "\n") {
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		page := 0
		if m := tocPageSuffix.FindStringSubmatch(text); m != nil {
			text = strings.TrimSpace(strings.TrimSuffix(text, m[0]))
			page, _ = strconv.Atoi(m[1])
		}
		if text == "" {
			continue
		}
		entries = append(entries, tocEntry{
			Text:        text,
			Page:        page,
			SectionType: ClassifySection(text),
		})
	}
	return entries
}

// TagChunks labels freshly indexed chunks with section types and merges
// the labels into their vector payloads, one write per label. Chunks with
// a classifiable heading never consult the model.
func (t *Tagger) TagChunks(ctx context.Context, doc *document.Document, chunks []*document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	byLabel := map[string][]string{}
	for _, chunk := range chunks {
		label := t.classifyChunk(ctx, chunk)
		byLabel[label] = append(byLabel[label], chunk.ID)
	}

	for label, ids := range byLabel {
		fields := map[string]any{"section_type": label}
		if err := t.store.UpdateChunkPayload(ctx, ids, fields, false); err != nil {
			return fmt.Errorf("failed to write section type %q: %w", label, err)
		}
	}
	t.logger.Info("Tagged chunks", "document_id", doc.ID, "chunks", len(chunks), "sections", len(byLabel))
	return nil
}

func (t *Tagger) classifyChunk(ctx context.Context, chunk *document.Chunk) string {
	for i := len(chunk.Headings) - 1; i >= 0; i-- {
		if s := ClassifySection(chunk.Headings[i]); s != SectionOther {
			return s
		}
	}
	if t.mode != config.ChunkTaggerLLM {
		return SectionOther
	}
	label, err := t.classifyWithModel(ctx, chunk.Text)
	if err != nil {
		t.logger.Warn("Chunk classification request failed", "chunk_id", chunk.ID, "error", err)
		return SectionOther
	}
	return label
}

// maxClassifyChars bounds the chunk text sent to the model; the opening
// of a chunk identifies its section.
const maxClassifyChars = 2000

func (t *Tagger) classifyWithModel(ctx context.Context, text string) (string, error) {
	if len(text) > maxClassifyChars {
		cut := maxClassifyChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	system := "You label passages from program evaluation reports with the section they belong to. " +
		"Answer with exactly one label from: " + strings.Join(SectionTypes, ", ") + "."
	reply, err := t.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		return "", err
	}
	return normalizeSectionLabel(reply), nil
}

// normalizeSectionLabel maps a model reply onto a known section type,
// falling back to keyword classification of the reply text.
func normalizeSectionLabel(reply string) string {
	label := strings.ToLower(strings.TrimSpace(reply))
	label = strings.Trim(label, "\"'.`")
	label = strings.ReplaceAll(label, " ", "_")
	if slices.Contains(SectionTypes, label) {
		return label
	}
	return ClassifySection(reply)
}
