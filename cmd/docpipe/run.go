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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/logger"
	"github.com/kadirpekel/docpipe/pkg/orchestrator"
	"github.com/kadirpekel/docpipe/pkg/selector"
	"github.com/kadirpekel/docpipe/pkg/worker"
)

// RunCmd processes documents for one data source.
type RunCmd struct {
	DataSource string `name:"data-source" required:"" help:"Data source to process."`
	NumRecords int    `name:"num-records" help:"Cap the number of documents processed (0 = all eligible)."`
	Workers    int    `help:"Parallel worker processes (overrides configuration)."`
	ModelMode  string `name:"model-mode" help:"Embedding mode (local or remote, overrides configuration)." placeholder:"MODE"`

	SkipDownload  bool `name:"skip-download" help:"Skip the download step."`
	SkipScan      bool `name:"skip-scan" help:"Skip the filesystem scan."`
	SkipParse     bool `name:"skip-parse" help:"Disable the parse stage."`
	SkipSummarize bool `name:"skip-summarize" help:"Disable the summarize stage."`
	SkipIndex     bool `name:"skip-index" help:"Disable the index stage."`
	SkipTag       bool `name:"skip-tag" help:"Disable the tag stage."`

	SaveChunks  bool   `name:"save-chunks" help:"Write chunk JSON next to the parsed artifacts."`
	RecentFirst bool   `name:"recent-first" help:"Process newest publication years first."`
	ClearDB     bool   `name:"clear-db" help:"Wipe the source's documents and chunks before running."`
	Partition   string `help:"Process slice M/N of the selection (e.g. 2/5)." placeholder:"M/N"`
	Observe     bool   `help:"Enable observability (metrics endpoint + OTLP tracing)."`

	Report   string `help:"Only documents whose file path contains this substring."`
	Agency   string `help:"Only documents from this organization."`
	FileID   string `name:"file-id" help:"Process a single document by ID."`
	Year     int    `help:"Only documents published in this year."`
	FromYear int    `name:"from-year" help:"Only documents published in or after this year."`
	ToYear   int    `name:"to-year" help:"Only documents published in or before this year."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(cli.Config, c.DataSource)
	if err != nil {
		return err
	}

	var partition *selector.Partition
	if c.Partition != "" {
		if partition, err = selector.ParsePartition(c.Partition); err != nil {
			return err
		}
	}
	if c.ModelMode != "" && c.ModelMode != config.EmbeddingModeLocal && c.ModelMode != config.EmbeddingModeRemote {
		return fmt.Errorf("invalid model mode %q (local or remote)", c.ModelMode)
	}
	if c.Observe {
		cfg.Observability.Enabled = true
		cfg.Observability.Tracing.Enabled = true
		slog.Info("Observability enabled", "addr", cfg.Observability.Addr, "tracing", cfg.Observability.Tracing.Endpoint)
	}

	runLog, logCleanup, err := resolveRunLog(cli, c.DataSource)
	if err != nil {
		return err
	}
	if logCleanup != nil {
		defer logCleanup()
	}

	stats, err := orchestrator.New(cfg, orchestrator.Options{
		Source:     c.DataSource,
		NumRecords: c.NumRecords,
		Workers:    c.Workers,
		ModelMode:  c.ModelMode,
		Skip: selector.Skip{
			Download:  c.SkipDownload,
			Scan:      c.SkipScan,
			Parse:     c.SkipParse,
			Summarize: c.SkipSummarize,
			Tag:       c.SkipTag,
			Index:     c.SkipIndex,
		},
		Filters: selector.Filters{
			DocID:    c.FileID,
			Agency:   c.Agency,
			Report:   c.Report,
			Year:     c.Year,
			FromYear: c.FromYear,
			ToYear:   c.ToYear,
		},
		RecentFirst: c.RecentFirst,
		Partition:   partition,
		SaveChunks:  c.SaveChunks,
		ClearDB:     c.ClearDB,
		RunLogPath:  runLog,
		LogSettings: worker.LogSettings{Level: cli.LogLevel, Format: cli.LogFormat},
	}).Run(ctx)
	if err != nil {
		return err
	}
	if !stats.Success() {
		return fmt.Errorf("%d of %d documents failed", stats.Failed, stats.Selected)
	}
	return nil
}

// loadConfig loads the configuration file, or builds the default
// configuration for the source when no file is given.
func loadConfig(path, source string) (*config.Config, error) {
	if path == "" {
		slog.Info("Using default configuration", "source", source)
		return config.Default(source), nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "path", path)
	return cfg, nil
}

// resolveRunLog decides where this run's log lives. An explicit
// --log-file wins; otherwise LOG_DIR gets a timestamped file per run and
// the process logger is redirected into it. Without either there is no
// run log, and per-document processing logs are not produced.
func resolveRunLog(cli *CLI, source string) (string, func(), error) {
	if cli.LogFile != "" {
		return cli.LogFile, nil, nil
	}
	dir := config.LogDir()
	if dir == "" {
		return "", nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", source, time.Now().Format("20060102_150405")))

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return "", nil, err
	}
	file, cleanup, err := logger.OpenLogFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open run log: %w", err)
	}
	logger.Init(level, file, cli.LogFormat)
	slog.Info("Run log", "path", path)
	return path, cleanup, nil
}
