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

// Package observability wires metrics and tracing for a pipeline run: an
// OpenTelemetry meter exported through Prometheus on an ops endpoint, and
// optional OTLP span export. Everything degrades to a no-op when disabled,
// so callers record unconditionally.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/logger"
)

// Manager owns the run's observability stack: the meter provider behind
// the Metrics recorder, the ops HTTP server, and the tracer provider.
type Manager struct {
	cfg     *config.ObservabilityConfig
	source  string
	metrics Metrics
	logger  *slog.Logger

	server        *http.Server
	meterProvider *sdkmetric.MeterProvider
	stopTracing   func(context.Context) error
}

// New builds a manager for one run. Nothing is started until Start.
func New(cfg *config.ObservabilityConfig, source string) *Manager {
	return &Manager{
		cfg:     cfg,
		source:  source,
		metrics: NoopMetrics{},
		logger:  logger.GetLogger().With("component", "observability"),
	}
}

// Start initializes metrics and tracing and serves the ops endpoint.
// With observability disabled it returns immediately and Metrics stays a
// no-op.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg == nil || !m.cfg.Enabled {
		return nil
	}

	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return err
	}
	m.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	metrics, err := newPipelineMetrics(m.meterProvider.Meter(meterName), m.source)
	if err != nil {
		return err
	}
	m.metrics = metrics

	if m.cfg.Tracing.Enabled {
		stop, err := initTracing(ctx, &m.cfg.Tracing)
		if err != nil {
			return err
		}
		m.stopTracing = stop
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	m.server = newOpsServer(m.cfg.Addr, handler)
	go func() {
		m.logger.Info("Ops server listening", "addr", m.cfg.Addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Ops server failed", "error", err)
		}
	}()
	return nil
}

// Metrics returns the run's recorder. Never nil.
func (m *Manager) Metrics() Metrics {
	return m.metrics
}

// Shutdown stops the ops server and flushes exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if m.server != nil {
		errs = append(errs, m.server.Shutdown(ctx))
	}
	if m.stopTracing != nil {
		errs = append(errs, m.stopTracing(ctx))
	}
	if m.meterProvider != nil {
		errs = append(errs, m.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
