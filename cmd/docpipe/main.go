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

// Command docpipe runs the evaluation-report processing pipeline.
//
// Usage:
//
//	docpipe run --data-source usaid
//	docpipe run --data-source usaid --num-records 100 --workers 4
//	docpipe run --data-source usaid --skip-download --file-id <id>
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/docpipe"
	"github.com/kadirpekel/docpipe/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Process documents for a data source."`
	Worker  WorkerCmd  `cmd:"" hidden:"" help:"Answer pipeline tasks over stdio (spawned by run)."`
	Schema  SchemaCmd  `cmd:"" help:"Generate JSON Schema for the configuration."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := docpipe.Version
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("docpipe version %s\n", version)
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("docpipe"),
		kong.Description("docpipe - evaluation report processing pipeline"),
		kong.UsageOnError(),
	)

	// Resolve CLI flags against env vars and initialize the process
	// logger; commands read the resolved values back off the CLI struct.
	level, file, format, cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}
	cli.LogLevel, cli.LogFile, cli.LogFormat = level, file, format

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
