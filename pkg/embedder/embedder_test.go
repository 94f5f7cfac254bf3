package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
)

func testEmbeddingConfig(batchSize int) *config.EmbeddingConfig {
	cfg := &config.EmbeddingConfig{BatchSize: batchSize}
	cfg.SetDefaults()
	cfg.BatchSize = batchSize
	return cfg
}

// echoServer answers /embeddings with one vector per input whose single
// component is the input's length, emitting data entries in reverse so
// callers must restore order via the index field.
func echoServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		if requests != nil {
			requests.Add(1)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type datum struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]datum, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, datum{
				Embedding: []float32{float32(len(req.Input[i]))},
				Index:     i,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestEmbedBatchesAndRestoresOrder(t *testing.T) {
	var requests atomic.Int32
	srv := echoServer(t, &requests)
	defer srv.Close()

	e, err := NewHTTP(srv.URL, testEmbeddingConfig(2))
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("requests = %d, want 3 for 5 texts at batch size 2", got)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, text := range texts {
		if len(vectors[i]) != 1 || vectors[i][0] != float32(len(text)) {
			t.Errorf("vectors[%d] = %v, want [%d]", i, vectors[i], len(text))
		}
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	var requests atomic.Int32
	srv := echoServer(t, &requests)
	defer srv.Close()

	e, err := NewHTTP(srv.URL, testEmbeddingConfig(2))
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	vectors, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vectors != nil {
		t.Errorf("got %v, want nil for empty input", vectors)
	}
	if got := requests.Load(); got != 0 {
		t.Errorf("requests = %d, want 0", got)
	}
}

func TestEmbedRetriesOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}, "index": 0}},
		})
	}))
	defer srv.Close()

	e, err := NewHTTP(srv.URL, testEmbeddingConfig(8))
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	e.retryDelay = time.Millisecond

	vectors, err := e.Embed(context.Background(), []string{"report"})
	if err != nil {
		t.Fatalf("Embed after retry: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if len(vectors) != 1 || vectors[0][0] != 1 {
		t.Errorf("vectors = %v, want [[1]]", vectors)
	}
}

func TestEmbedSurfacesServerErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "model not loaded", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	cfg := testEmbeddingConfig(8)
	cfg.MaxRetries = 2
	e, err := NewHTTP(srv.URL, cfg)
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	e.retryDelay = time.Millisecond

	if _, err := e.Embed(context.Background(), []string{"report"}); err == nil {
		t.Fatal("expected error from failing server")
	} else if !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error = %v, want server message surfaced", err)
	}
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}, "index": 0}},
		})
	}))
	defer srv.Close()

	e, err := NewHTTP(srv.URL, testEmbeddingConfig(8))
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	if _, err := e.Embed(context.Background(), []string{"one", "two"}); err == nil {
		t.Fatal("expected error on vector count mismatch")
	} else if !strings.Contains(err.Error(), "mismatch") {
		t.Errorf("error = %v, want count mismatch", err)
	}
}

func TestNewHTTPRequiresURL(t *testing.T) {
	if _, err := NewHTTP("", testEmbeddingConfig(8)); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
