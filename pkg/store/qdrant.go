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

package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the Qdrant vector provider.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`

	// Port is the Qdrant gRPC port (default: 6334).
	Port int `yaml:"port"`

	// APIKey for authenticated access (optional).
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS connections.
	UseTLS bool `yaml:"use_tls,omitempty"`

	// Dimension of stored vectors, used when creating collections.
	Dimension int `yaml:"dimension,omitempty"`
}

// QdrantProvider implements Provider using the Qdrant vector database.
type QdrantProvider struct {
	client *qdrant.Client
	config QdrantConfig

	mu      sync.Mutex
	ensured map[string]bool
}

// NewQdrantProvider creates a new Qdrant provider.
func NewQdrantProvider(cfg QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334 // Qdrant gRPC port
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w\n"+
			"  TIP: Troubleshooting:\n"+
			"     - Ensure Qdrant is running\n"+
			"     - Verify host and port configuration\n"+
			"     - For Docker: start Qdrant container (docker run -p 6333:6333 -p 6334:6334 qdrant/qdrant)",
			cfg.Host, cfg.Port, err)
	}

	return &QdrantProvider{
		client:  client,
		config:  cfg,
		ensured: make(map[string]bool),
	}, nil
}

// Name returns the provider name.
func (p *QdrantProvider) Name() string {
	return "qdrant"
}

// ensureCollection creates the collection on first use.
func (p *QdrantProvider) ensureCollection(ctx context.Context, collection string, dimension int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ensured[collection] {
		return nil
	}

	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	p.ensured[collection] = true
	return nil
}

// UpsertBatch adds or replaces points. With wait set, Qdrant acknowledges
// only after the write is applied.
func (p *QdrantProvider) UpsertBatch(ctx context.Context, collection string, points []Point, wait bool) error {
	if len(points) == 0 {
		return nil
	}

	dimension := p.config.Dimension
	if dimension == 0 {
		dimension = len(points[0].Vector)
	}
	if err := p.ensureCollection(ctx, collection, dimension); err != nil {
		return err
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, point := range points {
		payload, err := buildQdrantPayload(point.Payload)
		if err != nil {
			return err
		}
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(point.ID),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: payload,
		})
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(wait),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// SetPayload merges payload fields into existing points by ID.
func (p *QdrantProvider) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any, wait bool) error {
	if len(ids) == 0 || len(payload) == 0 {
		return nil
	}

	qdrantPayload, err := buildQdrantPayload(payload)
	if err != nil {
		return err
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}})
	}

	_, err = p.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: collection,
		Payload:        qdrantPayload,
		PointsSelector: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
		Wait: qdrant.PtrOf(wait),
	})
	if err != nil {
		return fmt.Errorf("failed to set payload: %w", err)
	}
	return nil
}

// DeleteByFilter removes all points matching the filter.
func (p *QdrantProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}

	_, err = p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildQdrantFilter(filter),
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// Count returns the exact number of points in a collection.
func (p *QdrantProvider) Count(ctx context.Context, collection string) (uint64, error) {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return 0, nil
	}

	count, err := p.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return count, nil
}

// DeleteCollection removes a collection.
func (p *QdrantProvider) DeleteCollection(ctx context.Context, collection string) error {
	if err := p.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	p.mu.Lock()
	delete(p.ensured, collection)
	p.mu.Unlock()
	return nil
}

// Close closes the Qdrant client.
func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

// buildQdrantPayload converts a payload map to Qdrant values.
func buildQdrantPayload(payload map[string]any) (map[string]*qdrant.Value, error) {
	out := make(map[string]*qdrant.Value, len(payload))
	for key, value := range payload {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
		}
		out[key] = val
	}
	return out, nil
}

// buildQdrantFilter converts a filter map to a Qdrant must-match filter.
func buildQdrantFilter(filter map[string]any) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))

	for key, value := range filter {
		val, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}

		condition := &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: val.GetStringValue(),
						},
					},
				},
			},
		}
		conditions = append(conditions, condition)
	}

	return &qdrant.Filter{
		Must: conditions,
	}
}

// Ensure QdrantProvider implements Provider.
var _ Provider = (*QdrantProvider)(nil)
