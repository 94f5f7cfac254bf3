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

// Package store persists pipeline state across two backends: a relational
// database holding the full document record, and a vector database holding
// embedded chunks with a mirrored metadata payload. The Store facade routes
// reads and writes to the right backend and normalizes legacy sys_-prefixed
// field names.
package store

import (
	"context"
	"fmt"

	"github.com/kadirpekel/docpipe/pkg/config"
)

// ProviderType identifies a vector backend.
type ProviderType string

const (
	ProviderChromem ProviderType = "chromem"
	ProviderQdrant  ProviderType = "qdrant"
)

// Point is one vector record with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Provider is the vector backend contract. Implementations must honor the
// wait flag: when set, the write is durable before the call returns.
type Provider interface {
	// Name returns the provider type name.
	Name() string

	// UpsertBatch adds or replaces points in a collection, creating the
	// collection on first use.
	UpsertBatch(ctx context.Context, collection string, points []Point, wait bool) error

	// SetPayload merges payload fields into existing points by ID.
	SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any, wait bool) error

	// DeleteByFilter removes all points whose payload matches every
	// filter entry.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// Count returns the number of points in a collection. A missing
	// collection counts as zero.
	Count(ctx context.Context, collection string) (uint64, error)

	// DeleteCollection removes a collection and all its points.
	DeleteCollection(ctx context.Context, collection string) error

	// Close releases resources and flushes any pending persistence.
	Close() error
}

// NewProvider creates a vector provider from config.
func NewProvider(cfg *config.VectorConfig, dimension int) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector config is required")
	}

	switch ProviderType(cfg.Provider) {
	case ProviderChromem:
		return NewChromemProvider(ChromemConfig{
			PersistPath: cfg.Path,
			Compress:    cfg.Compress,
		})
	case ProviderQdrant:
		return NewQdrantProvider(QdrantConfig{
			Host:      cfg.Host,
			Port:      cfg.Port,
			APIKey:    cfg.APIKey,
			UseTLS:    cfg.UseTLS,
			Dimension: dimension,
		})
	default:
		return nil, fmt.Errorf("unknown vector provider: %s (supported: chromem, qdrant)", cfg.Provider)
	}
}
