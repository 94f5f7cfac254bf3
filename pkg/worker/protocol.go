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
	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
	"github.com/kadirpekel/docpipe/pkg/pipeline"
)

// Task is one unit of work sent to a worker: a single document record.
type Task struct {
	Doc *document.Document `json:"doc"`
}

// Result is a worker's report for one task. Error marks an in-band
// failure raised outside the stage machine (resource-guard timeout,
// infrastructure fault, panic); ordinary stage failures come back as
// Failed with a terminal Status instead.
type Result struct {
	DocID          string          `json:"doc_id"`
	Status         document.Status `json:"status,omitempty"`
	Failed         bool            `json:"failed,omitempty"`
	Error          string          `json:"error,omitempty"`
	ElapsedSeconds float64         `json:"elapsed_seconds,omitempty"`
}

// LogSettings tells a worker process how to configure its logger so its
// lines land in the orchestrator's run log with the same shape.
type LogSettings struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// initMessage is the first line on a worker's stdin: everything the child
// needs to build its runtime.
type initMessage struct {
	Config  *config.Config   `json:"config"`
	Source  string           `json:"source"`
	Options pipeline.Options `json:"options"`
	Logging LogSettings      `json:"logging"`
}

// OutcomeClass tells the supervisor how a task ended.
type OutcomeClass int

const (
	// OutcomeClean means the worker delivered a result and the stage
	// machine ran to its conclusion, successful or not.
	OutcomeClean OutcomeClass = iota

	// OutcomeTimeout means no result arrived within the task deadline;
	// the worker was terminated.
	OutcomeTimeout

	// OutcomeCrash means the worker died before delivering a result.
	OutcomeCrash

	// OutcomeError means the worker answered with an in-band error.
	OutcomeError
)

func (c OutcomeClass) String() string {
	switch c {
	case OutcomeClean:
		return "clean"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCrash:
		return "crash"
	case OutcomeError:
		return "error"
	}
	return "unknown"
}

// Outcome pairs a document with how its task ended. Result is set for
// clean and in-band error outcomes; Detail carries the crash or error
// reason for the supervisor's stopped marker.
type Outcome struct {
	Doc    *document.Document
	Class  OutcomeClass
	Result *Result
	Detail string
}

// classify turns a delivered result into its outcome.
func classify(doc *document.Document, res Result) Outcome {
	if res.Error != "" {
		return Outcome{Doc: doc, Class: OutcomeError, Result: &res, Detail: res.Error}
	}
	return Outcome{Doc: doc, Class: OutcomeClean, Result: &res}
}
