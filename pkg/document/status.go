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

import "time"

// Status is a document's durable lifecycle label. A document has exactly one
// status at any instant; stage execution is gated on it.
type Status string

const (
	// StatusDownloaded marks a document registered by the downloader or the
	// filesystem scan, not yet parsed.
	StatusDownloaded Status = "downloaded"

	// StatusDownloadError marks a document the downloader failed to fetch.
	StatusDownloadError Status = "download_error"

	// Transient statuses. A document holding one of these either has an
	// actively running stage on some worker, or is a crash remnant that the
	// supervisor rewrites to StatusStopped.
	StatusParsing     Status = "parsing"
	StatusSummarizing Status = "summarizing"
	StatusTagging     Status = "tagging"
	StatusIndexing    Status = "indexing"

	// Per-stage terminal statuses.
	StatusParsed          Status = "parsed"
	StatusParseFailed     Status = "parse_failed"
	StatusSummarized      Status = "summarized"
	StatusSummarizeFailed Status = "summarize_failed"
	StatusTagged          Status = "tagged"
	StatusIndexed         Status = "indexed"
	StatusIndexFailed     Status = "index_failed"

	// StatusStopped marks a document whose worker timed out, crashed, or
	// returned an in-band error. Written by the fault supervisor.
	StatusStopped Status = "stopped"
)

// AllStatuses lists every valid lifecycle status.
var AllStatuses = []Status{
	StatusDownloaded,
	StatusParsing,
	StatusParsed,
	StatusParseFailed,
	StatusSummarizing,
	StatusSummarized,
	StatusSummarizeFailed,
	StatusTagging,
	StatusTagged,
	StatusIndexing,
	StatusIndexed,
	StatusIndexFailed,
	StatusStopped,
	StatusDownloadError,
}

// IsValid reports whether s is one of the enumerated lifecycle statuses.
func (s Status) IsValid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTransient reports whether s is a *-ing status written while a stage runs.
func (s Status) IsTransient() bool {
	switch s {
	case StatusParsing, StatusSummarizing, StatusTagging, StatusIndexing:
		return true
	}
	return false
}

// IsFailure reports whether s is a terminal failure status.
func (s Status) IsFailure() bool {
	switch s {
	case StatusParseFailed, StatusSummarizeFailed, StatusIndexFailed, StatusStopped, StatusDownloadError:
		return true
	}
	return false
}

// Stage names a pipeline stage. Each stage is one processor invocation
// bracketed by a transient and a terminal status write.
type Stage string

const (
	StageParse     Stage = "parse"
	StageSummarize Stage = "summarize"
	StageTag       Stage = "tag"
	StageIndex     Stage = "index"
)

// PipelineStages lists the worker-side stages in execution order. Download
// and scan run in the orchestrator, not in workers.
var PipelineStages = []Stage{StageParse, StageSummarize, StageTag, StageIndex}

// Transition describes how a stage moves a document through the lifecycle.
// A zero Failure status means a failed stage leaves the document's status
// unchanged (only the stage error is recorded).
type Transition struct {
	From      []Status
	Transient Status
	Success   Status
	Failure   Status
}

// Transition returns the lifecycle transition for the stage.
func (s Stage) Transition() Transition {
	switch s {
	case StageParse:
		return Transition{
			From:      []Status{StatusDownloaded},
			Transient: StatusParsing,
			Success:   StatusParsed,
			Failure:   StatusParseFailed,
		}
	case StageSummarize:
		return Transition{
			From:      []Status{StatusParsed, StatusDownloaded},
			Transient: StatusSummarizing,
			Success:   StatusSummarized,
			Failure:   StatusSummarizeFailed,
		}
	case StageTag:
		return Transition{
			From:      []Status{StatusSummarized},
			Transient: StatusTagging,
			Success:   StatusTagged,
		}
	case StageIndex:
		return Transition{
			From:      []Status{StatusTagged, StatusSummarized, StatusParsed, StatusDownloaded},
			Transient: StatusIndexing,
			Success:   StatusIndexed,
			Failure:   StatusIndexFailed,
		}
	}
	return Transition{}
}

// RunnableFrom reports whether the stage may start for a document currently
// holding status st.
func (s Stage) RunnableFrom(st Status) bool {
	for _, from := range s.Transition().From {
		if st == from {
			return true
		}
	}
	return false
}

// SourceStatus returns the status that feeds the stage during selection:
// the first (most advanced) entry of the stage's From set.
func (s Stage) SourceStatus() Status {
	t := s.Transition()
	if len(t.From) == 0 {
		return ""
	}
	return t.From[0]
}

// StageResult records one terminated stage execution on a document.
type StageResult struct {
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
}
