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

package worker

import (
	"context"
	"log/slog"

	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/logger"
)

// StoreWriter is the slice of the store the supervisor needs.
type StoreWriter interface {
	UpdateDocument(ctx context.Context, id string, fields map[string]any, wait bool) error
}

// Supervisor reconciles task outcomes with the store: documents whose
// worker was lost get a terminal stopped status, so no record stays
// parked in a transient state after a crash.
type Supervisor struct {
	store  StoreWriter
	logger *slog.Logger
}

// NewSupervisor builds a supervisor over the run's store.
func NewSupervisor(store StoreWriter) *Supervisor {
	return &Supervisor{
		store:  store,
		logger: logger.GetLogger().With("component", "supervisor"),
	}
}

// Record handles one outcome and reports whether the document counts as
// failed in the run statistics.
func (s *Supervisor) Record(ctx context.Context, out Outcome) bool {
	switch out.Class {
	case OutcomeClean:
		return out.Result.Failed
	case OutcomeTimeout:
		s.markStopped(ctx, out.Doc, "Worker Timeout/OOM")
	case OutcomeCrash:
		s.markStopped(ctx, out.Doc, "Worker Crash: "+out.Detail)
	case OutcomeError:
		s.markStopped(ctx, out.Doc, "Worker Error: "+out.Detail)
	}
	return true
}

// markStopped writes the stopped status and the reason with a durable
// write. Its own failure is logged, not returned: the run continues, and
// a worker that turns out to be alive overwrites the status with its own
// terminal write anyway.
func (s *Supervisor) markStopped(ctx context.Context, doc *document.Document, reason string) {
	s.logger.Warn("Marking document stopped", "document_id", doc.ID, "reason", reason)
	fields := map[string]any{
		"status":        document.StatusStopped,
		"error_message": reason,
	}
	if err := s.store.UpdateDocument(ctx, doc.ID, fields, true); err != nil {
		s.logger.Error("Failed to mark document stopped",
			"document_id", doc.ID, "error", err)
	}
}
