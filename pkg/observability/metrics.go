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

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kadirpekel/docpipe/pkg/document"
)

const meterName = "docpipe"

// Metrics records what a pipeline run does. The source label is fixed at
// construction; a run processes exactly one data source.
type Metrics interface {
	// RecordDocument counts a document reaching a terminal status and
	// observes its end-to-end stage machine duration.
	RecordDocument(ctx context.Context, status document.Status, seconds float64)

	// RecordFault counts a worker fault by outcome class
	// (timeout, crash, error).
	RecordFault(ctx context.Context, class string)

	// AddSelected counts documents selected for processing.
	AddSelected(ctx context.Context, n int)

	// AddInFlight moves the in-flight task gauge.
	AddInFlight(ctx context.Context, delta int)
}

// pipelineMetrics is the OpenTelemetry-backed recorder.
type pipelineMetrics struct {
	source attribute.KeyValue

	documents metric.Int64Counter
	duration  metric.Float64Histogram
	faults    metric.Int64Counter
	selected  metric.Int64Counter
	inFlight  metric.Int64UpDownCounter
}

func newPipelineMetrics(meter metric.Meter, source string) (*pipelineMetrics, error) {
	m := &pipelineMetrics{source: attribute.String("source", source)}
	var err error

	m.documents, err = meter.Int64Counter(
		"docpipe_documents_processed_total",
		metric.WithDescription("Documents reaching a terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create documents counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"docpipe_document_duration_seconds",
		metric.WithDescription("End-to-end stage machine duration per document"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	m.faults, err = meter.Int64Counter(
		"docpipe_worker_faults_total",
		metric.WithDescription("Worker faults by outcome class"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create faults counter: %w", err)
	}

	m.selected, err = meter.Int64Counter(
		"docpipe_documents_selected_total",
		metric.WithDescription("Documents selected for processing"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create selected counter: %w", err)
	}

	m.inFlight, err = meter.Int64UpDownCounter(
		"docpipe_tasks_in_flight",
		metric.WithDescription("Documents dispatched and not yet concluded"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-flight gauge: %w", err)
	}

	return m, nil
}

func (m *pipelineMetrics) RecordDocument(ctx context.Context, status document.Status, seconds float64) {
	if m == nil || m.documents == nil {
		return
	}
	attrs := metric.WithAttributes(m.source, attribute.String("status", string(status)))
	m.documents.Add(ctx, 1, attrs)
	if seconds > 0 {
		m.duration.Record(ctx, seconds, metric.WithAttributes(m.source))
	}
}

func (m *pipelineMetrics) RecordFault(ctx context.Context, class string) {
	if m == nil || m.faults == nil {
		return
	}
	m.faults.Add(ctx, 1, metric.WithAttributes(m.source, attribute.String("class", class)))
}

func (m *pipelineMetrics) AddSelected(ctx context.Context, n int) {
	if m == nil || m.selected == nil {
		return
	}
	m.selected.Add(ctx, int64(n), metric.WithAttributes(m.source))
}

func (m *pipelineMetrics) AddInFlight(ctx context.Context, delta int) {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Add(ctx, int64(delta), metric.WithAttributes(m.source))
}

// NoopMetrics drops every record. Used whenever observability is off.
type NoopMetrics struct{}

func (NoopMetrics) RecordDocument(context.Context, document.Status, float64) {}
func (NoopMetrics) RecordFault(context.Context, string)                      {}
func (NoopMetrics) AddSelected(context.Context, int)                         {}
func (NoopMetrics) AddInFlight(context.Context, int)                         {}

var (
	_ Metrics = (*pipelineMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
