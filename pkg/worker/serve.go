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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/docpipe/pkg/logger"
)

// Serve runs the worker half of the stdio protocol: read the init message,
// build the runtime, then answer one result line per task line until stdin
// closes. A clean EOF on stdin is the retirement signal from the pool.
func Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(in)

	var init initMessage
	if err := dec.Decode(&init); err != nil {
		return fmt.Errorf("failed to read init message: %w", err)
	}
	if init.Config == nil || init.Source == "" {
		return fmt.Errorf("incomplete init message")
	}

	initLogging(init)

	rt, err := NewRuntime(ctx, init.Config, init.Source, init.Options)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	defer rt.Close()

	log := logger.GetLogger().With("component", "worker")
	log.Info("Worker ready",
		"source", init.Source,
		"pid", os.Getpid(),
		"stages", init.Options.EnabledStages())

	enc := json.NewEncoder(out)
	for {
		var task Task
		if err := dec.Decode(&task); err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("Worker retiring", "pid", os.Getpid())
				return nil
			}
			return fmt.Errorf("failed to read task: %w", err)
		}
		if task.Doc == nil {
			return fmt.Errorf("task without a document")
		}

		res := rt.RunTask(ctx, task.Doc)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
}

// initLogging points the worker's logger at the orchestrator's run log so
// every process appends to the same file and the per-document extraction
// sees worker lines too. Append mode keeps concurrent writers line-safe.
func initLogging(init initMessage) {
	level, _ := logger.ParseLevel(init.Logging.Level)
	output := os.Stderr
	if path := init.Options.RunLogPath; path != "" {
		if f, _, err := logger.OpenLogFile(path); err == nil {
			output = f
		}
	}
	logger.Init(level, output, init.Logging.Format)
	if output == os.Stderr && init.Options.RunLogPath != "" {
		logger.GetLogger().Warn("Cannot append to run log, logging to stderr",
			"path", init.Options.RunLogPath)
	}
}
