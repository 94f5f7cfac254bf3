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
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/logger"
)

// Probe pauses are jittered inside this window so W workers waiting on
// the same starved machine do not wake in lockstep.
const (
	memWaitMin = 5 * time.Second
	memWaitMax = 15 * time.Second
)

// ErrMemoryTimeout is returned when free memory stays below the threshold
// for the whole grace period. It travels to the supervisor as an in-band
// error so the document is marked stopped without heavy models ever
// being invoked on a starved machine.
var ErrMemoryTimeout = errors.New("OOM Protection: Timeout waiting for memory")

// MemoryGuard blocks task starts while system memory is scarce.
type MemoryGuard struct {
	minFree uint64
	maxWait time.Duration
	logger  *slog.Logger

	// Swapped in tests.
	available func(ctx context.Context) (uint64, error)
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewMemoryGuard builds a guard from the pipeline tuning.
func NewMemoryGuard(cfg *config.PipelineConfig) *MemoryGuard {
	return &MemoryGuard{
		minFree:   uint64(cfg.MinFreeMemoryGB * float64(1<<30)),
		maxWait:   cfg.MemoryWaitMax,
		logger:    logger.GetLogger().With("component", "memguard"),
		available: availableMemory,
		sleep:     sleepContext,
	}
}

// Wait blocks until available memory clears the threshold, probing with a
// jittered pause in between. Returns ErrMemoryTimeout once the total wait
// exceeds the grace period, and the context error on cancellation. An
// unreadable memory stat lets the task proceed rather than stall the run
// on a metrics failure.
func (g *MemoryGuard) Wait(ctx context.Context) error {
	deadline := time.Now().Add(g.maxWait)
	for {
		avail, err := g.available(ctx)
		if err != nil {
			g.logger.Warn("Cannot read system memory, proceeding", "error", err)
			return nil
		}
		if avail >= g.minFree {
			return nil
		}
		if time.Now().After(deadline) {
			g.logger.Error("Memory stayed low for the whole grace period",
				"available_mb", avail>>20, "required_mb", g.minFree>>20)
			return ErrMemoryTimeout
		}

		pause := memWaitMin + rand.N(memWaitMax-memWaitMin)
		g.logger.Info("Low memory, waiting",
			"available_mb", avail>>20,
			"required_mb", g.minFree>>20,
			"pause", pause.Round(time.Second))
		if err := g.sleep(ctx, pause); err != nil {
			return err
		}
	}
}

func availableMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
