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
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/docpipe/pkg/worker"
)

// WorkerCmd answers pipeline tasks over stdio. The run command's process
// pool spawns it; it is not meant to be invoked by hand. Stdout carries
// the result protocol, so nothing else may write there.
type WorkerCmd struct{}

func (c *WorkerCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A signal aborts the in-flight task with an in-band error instead
	// of killing the process, so the orchestrator sees a result rather
	// than a crash while everything winds down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return worker.Serve(ctx, os.Stdin, os.Stdout)
}
