package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
)

func testGuard(maxWait time.Duration) *MemoryGuard {
	return NewMemoryGuard(&config.PipelineConfig{
		MinFreeMemoryGB: 2,
		MemoryWaitMax:   maxWait,
	})
}

func TestMemoryGuardPassesWhenMemoryIsFree(t *testing.T) {
	g := testGuard(time.Minute)
	g.available = func(context.Context) (uint64, error) { return 8 << 30, nil }
	slept := 0
	g.sleep = func(context.Context, time.Duration) error { slept++; return nil }

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if slept != 0 {
		t.Errorf("slept %d times, want 0", slept)
	}
}

func TestMemoryGuardWaitsUntilMemoryClears(t *testing.T) {
	g := testGuard(time.Minute)
	readings := []uint64{1 << 30, 1 << 30, 4 << 30}
	probe := 0
	g.available = func(context.Context) (uint64, error) {
		v := readings[probe]
		probe++
		return v, nil
	}
	var pauses []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(pauses) != 2 {
		t.Fatalf("slept %d times, want 2", len(pauses))
	}
	for i, d := range pauses {
		if d < memWaitMin || d > memWaitMax {
			t.Errorf("pause %d = %s, want within [%s, %s]", i, d, memWaitMin, memWaitMax)
		}
	}
}

func TestMemoryGuardTimesOut(t *testing.T) {
	g := testGuard(-time.Second)
	g.available = func(context.Context) (uint64, error) { return 1 << 30, nil }
	g.sleep = func(context.Context, time.Duration) error {
		t.Error("guard slept past its deadline")
		return nil
	}

	err := g.Wait(context.Background())
	if !errors.Is(err, ErrMemoryTimeout) {
		t.Fatalf("Wait() error = %v, want ErrMemoryTimeout", err)
	}
	if err.Error() != "OOM Protection: Timeout waiting for memory" {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestMemoryGuardStopsOnCancel(t *testing.T) {
	g := testGuard(time.Minute)
	g.available = func(context.Context) (uint64, error) { return 1 << 30, nil }
	g.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	if err := g.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestMemoryGuardProceedsWhenStatsUnreadable(t *testing.T) {
	g := testGuard(time.Minute)
	g.available = func(context.Context) (uint64, error) {
		return 0, errors.New("proc not mounted")
	}

	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v, want nil on unreadable stats", err)
	}
}
