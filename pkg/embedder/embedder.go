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

// Package embedder provides the dense-embedding capability the index and
// tag stages consume: an HTTP client speaking the /embeddings protocol,
// plus the lifecycle manager that resolves or starts the server behind it.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
)

// Embedder is the capability stage processors depend on. Implementations
// turn a batch of texts into one dense vector per text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// HTTPEmbedder talks to a server honoring POST /embeddings with
// {model, input: [str]} returning {data: [{embedding, index}]}.
type HTTPEmbedder struct {
	client     *http.Client
	baseURL    string
	model      string
	dimension  int
	batchSize  int
	maxRetries int
	retryDelay time.Duration
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewHTTP builds a client against baseURL, which the caller resolves
// through the ServerManager first.
func NewHTTP(baseURL string, cfg *config.EmbeddingConfig) (*HTTPEmbedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding server URL is required")
	}
	return &HTTPEmbedder{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
	}, nil
}

// Embed returns one vector per input text, preserving input order.
// Inputs are sent in batches; failed requests are retried with linear
// backoff before giving up.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		embeddings, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, embeddings...)
	}
	return results, nil
}

func (e *HTTPEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embedRequest{Model: e.model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	maxRetries := e.maxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var body []byte
	var status int
	for attempt := 0; attempt < maxRetries; attempt++ {
		body, status, err = e.post(ctx, reqBody)
		if err == nil && status == http.StatusOK {
			break
		}
		if attempt < maxRetries-1 {
			backoff := time.Duration(attempt+1) * e.retryDelay
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reach embedding server: %w", err)
	}
	if status != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("embedding server error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("embedding server returned status %d: %s", status, string(body))
	}

	var response embedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Data) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(batch), len(response.Data))
	}

	// Order by index so vectors line up with the input texts.
	embeddings := make([][]float32, len(batch))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	return embeddings, nil
}

// post sends one request. The body reader is rebuilt per attempt so
// retries never send a drained buffer.
func (e *HTTPEmbedder) post(ctx context.Context, reqBody []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (e *HTTPEmbedder) Dimension() int {
	return e.dimension
}

func (e *HTTPEmbedder) ModelName() string {
	return e.model
}
