package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/document"
)

func TestNoopMetricsRecording(t *testing.T) {
	ctx := context.Background()
	var m Metrics = NoopMetrics{}

	m.RecordDocument(ctx, document.StatusIndexed, 12.5)
	m.RecordFault(ctx, "timeout")
	m.AddSelected(ctx, 10)
	m.AddInFlight(ctx, -1)
}

func TestDisabledManagerStaysNoop(t *testing.T) {
	m := New(&config.ObservabilityConfig{Enabled: false}, "eval")
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := m.Metrics().(NoopMetrics); !ok {
		t.Errorf("Metrics() = %T, want NoopMetrics when disabled", m.Metrics())
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestPipelineMetricsRecording(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	m, err := newPipelineMetrics(provider.Meter(meterName), "eval")
	if err != nil {
		t.Fatalf("newPipelineMetrics: %v", err)
	}

	m.RecordDocument(ctx, document.StatusIndexed, 12.5)
	m.RecordDocument(ctx, document.StatusParseFailed, 0)
	m.RecordFault(ctx, "timeout")
	m.AddSelected(ctx, 3)
	m.AddInFlight(ctx, 3)
	m.AddInFlight(ctx, -1)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := counterSum(t, rm, "docpipe_documents_processed_total"); got != 2 {
		t.Errorf("documents processed = %d, want 2", got)
	}
	if got := counterSum(t, rm, "docpipe_worker_faults_total"); got != 1 {
		t.Errorf("worker faults = %d, want 1", got)
	}
	if got := counterSum(t, rm, "docpipe_documents_selected_total"); got != 3 {
		t.Errorf("documents selected = %d, want 3", got)
	}
	if got := counterSum(t, rm, "docpipe_tasks_in_flight"); got != 2 {
		t.Errorf("tasks in flight = %d, want 2", got)
	}
}

// counterSum totals the int64 data points of one named instrument.
func counterSum(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: data type %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("instrument %s not collected", name)
	return 0
}

func TestOpsServerRoutes(t *testing.T) {
	metricsBody := "# no metrics yet\n"
	srv := newOpsServer(":0", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, metricsBody)
	}))

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("/healthz = %d %q, want 200 ok", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != metricsBody {
		t.Errorf("/metrics = %d %q, want the metrics handler output", resp.StatusCode, body)
	}
}

func TestManagerStartAndShutdown(t *testing.T) {
	cfg := &config.ObservabilityConfig{Enabled: true, Addr: "127.0.0.1:0"}
	m := New(cfg, "eval")

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := m.Metrics().(*pipelineMetrics); !ok {
		t.Errorf("Metrics() = %T, want the otel-backed recorder", m.Metrics())
	}
	m.Metrics().RecordDocument(context.Background(), document.StatusIndexed, 1.0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
