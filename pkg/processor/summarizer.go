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
	"os"
	"strings"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/llm"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/parsed"
)

// summaryTokenBudget bounds how much document text goes into the summary
// prompt.
const summaryTokenBudget = 8000

const summarySystemPrompt = "You are an analyst who summarizes program evaluation reports. " +
	"Write factual, specific summaries grounded only in the provided text. " +
	"Cover the program or intervention evaluated, the evaluation methodology, " +
	"the main findings, and the recommendations. Do not speculate beyond the text."

// TokenTruncator bounds text to a token budget under the embedding
// model's tokenizer.
type TokenTruncator interface {
	Truncate(text string, maxTokens int) string
}

// Summarizer produces the document-level summary from the parsed text.
type Summarizer struct {
	layout    document.Layout
	client    llm.Client
	truncator TokenTruncator
	logger    *slog.Logger
}

// NewSummarizer builds the summarize stage processor.
func NewSummarizer(layout document.Layout, client llm.Client, truncator TokenTruncator) *Summarizer {
	return &Summarizer{
		layout:    layout,
		client:    client,
		truncator: truncator,
		logger:    logger.GetLogger().With("component", "summarizer"),
	}
}

// Process reads the parsed text, asks the model for a summary, and returns
// the full_summary update.
func (s *Summarizer) Process(ctx context.Context, doc *document.Document) (map[string]any, error) {
	body, err := s.loadText(doc)
	if err != nil {
		return nil, err
	}
	body = s.truncator.Truncate(body, summaryTokenBudget)

	summary, err := s.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: summarySystemPrompt},
		{Role: llm.RoleUser, Content: summaryPrompt(doc, body)},
	})
	if err != nil {
		return nil, fmt.Errorf("summary request failed: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("model returned an empty summary")
	}
	return map[string]any{"full_summary": summary}, nil
}

// loadText prefers the markdown artifact and falls back to rendering the
// parsed document JSON.
func (s *Summarizer) loadText(doc *document.Document) (string, error) {
	dir := s.layout.ParsedFolder(doc)
	stem := doc.Stem()

	data, err := os.ReadFile(parsed.MarkdownFile(dir, stem))
	if err == nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			return text, nil
		}
	}

	art, lerr := parsed.LoadArtifacts(dir, stem)
	if lerr != nil {
		return "", fmt.Errorf("no parsed text to summarize: %w", lerr)
	}
	text := strings.TrimSpace(art.Doc.Markdown())
	if text == "" {
		return "", fmt.Errorf("parsed document is empty")
	}
	return text, nil
}

func summaryPrompt(doc *document.Document, body string) string {
	var b strings.Builder
	b.WriteString("Summarize the following evaluation report in 300-500 words.\n")
	if doc.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", doc.Title)
	}
	if doc.Organization != "" {
		fmt.Fprintf(&b, "Organization: %s\n", doc.Organization)
	}
	if doc.PublishedYear != "" {
		fmt.Fprintf(&b, "Published: %s\n", doc.PublishedYear)
	}
	b.WriteString("\n---\n")
	b.WriteString(body)
	return b.String()
}
