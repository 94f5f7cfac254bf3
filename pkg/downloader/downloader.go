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

// Package downloader invokes a source's download script. The script is
// opaque to the pipeline: its command and argument template come from the
// source configuration, run-scoped values are filled into `{key}`
// placeholders, and the subprocess inherits the orchestrator's stdio so
// its progress output reaches the operator directly.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/logger"
)

// Params are the run-scoped values available to the argument template.
// Zero values mean "unset": the placeholder and its option flag are
// dropped from the rendered command line.
type Params struct {
	DataDir    string
	NumRecords int
	Year       int
	FromYear   int
	ToYear     int
	Agency     string
	Report     string
	DocID      string
}

// values renders the template keys. Empty strings mark unset values.
func (p Params) values() map[string]string {
	return map[string]string{
		"data_dir":    p.DataDir,
		"num_records": positiveInt(p.NumRecords),
		"year":        positiveInt(p.Year),
		"from_year":   positiveInt(p.FromYear),
		"to_year":     positiveInt(p.ToYear),
		"agency":      p.Agency,
		"report":      p.Report,
		"doc_id":      p.DocID,
	}
}

func positiveInt(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// Runner invokes the download script for one source.
type Runner struct {
	cfg    *config.DownloaderConfig
	logger *slog.Logger
}

// New builds a runner from the source's downloader configuration.
func New(cfg *config.DownloaderConfig) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger.GetLogger().With("component", "downloader"),
	}
}

// Run executes the download script with the rendered arguments. The
// subprocess has no timeout; downloads of large corpora legitimately run
// for hours. A non-zero exit comes back as an error and aborts the run.
func (r *Runner) Run(ctx context.Context, p Params) error {
	args := r.expand(p)
	r.logger.Info("Running downloader", "command", r.cfg.Command, "args", args)

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("downloader failed: %w", err)
	}
	return nil
}

// expand renders the argument template. An unset placeholder is dropped
// together with the preceding token when that token is an option flag, so
// optional script arguments disappear cleanly.
func (r *Runner) expand(p Params) []string {
	vals := p.values()
	out := make([]string, 0, len(r.cfg.Args))
	for _, arg := range r.cfg.Args {
		key, ok := placeholderKey(arg)
		if !ok {
			out = append(out, arg)
			continue
		}
		val, known := vals[key]
		if !known {
			r.logger.Warn("Unknown placeholder in downloader args", "placeholder", arg)
		}
		if val != "" {
			out = append(out, val)
			continue
		}
		if n := len(out); n > 0 && strings.HasPrefix(out[n-1], "--") {
			out = out[:n-1]
		}
	}
	return out
}

// placeholderKey reports whether an argument is a whole-token `{key}`
// placeholder.
func placeholderKey(arg string) (string, bool) {
	if len(arg) > 2 && strings.HasPrefix(arg, "{") && strings.HasSuffix(arg, "}") {
		return arg[1 : len(arg)-1], true
	}
	return "", false
}
