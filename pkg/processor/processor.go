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

// Package processor implements the per-document stage processors the
// worker runs: parse (native extraction engine), summarize (LLM),
// tag (section classification), and index (chunk, embed, upsert).
// Each processor is instantiated once per worker and reused across tasks.
package processor

import (
	"context"

	"github.com/kadirpekel/docpipe/pkg/document"
)

// StageProcessor runs one pipeline stage for one document. On success it
// returns the document-field updates the stage machine merges into the
// record alongside the terminal status.
type StageProcessor interface {
	Process(ctx context.Context, doc *document.Document) (map[string]any, error)
}

// Set bundles a worker's processor instances.
type Set struct {
	Parser     *Parser
	Summarizer *Summarizer
	Tagger     *Tagger
	Indexer    *Indexer
}

// ForStage returns the processor driving a stage, or nil when the stage is
// unknown or its processor was not configured.
func (s *Set) ForStage(stage document.Stage) StageProcessor {
	switch stage {
	case document.StageParse:
		if s.Parser != nil {
			return s.Parser
		}
	case document.StageSummarize:
		if s.Summarizer != nil {
			return s.Summarizer
		}
	case document.StageTag:
		if s.Tagger != nil {
			return s.Tagger
		}
	case document.StageIndex:
		if s.Indexer != nil {
			return s.Indexer
		}
	}
	return nil
}

// TagNewChunks runs the chunk-tagging pass over the chunks produced by the
// most recent index run. A set without a tagger or indexer is a no-op.
func (s *Set) TagNewChunks(ctx context.Context, doc *document.Document) error {
	if s.Tagger == nil || s.Indexer == nil {
		return nil
	}
	return s.Tagger.TagChunks(ctx, doc, s.Indexer.Chunks())
}
