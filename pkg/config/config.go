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

// Package config defines the pipeline configuration model and its loader.
// Configuration comes from a YAML file with environment-variable expansion;
// the CLI overlays run-scoped options on top.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the root pipeline configuration.
type Config struct {
	// Sources maps data source names to their configuration. The CLI's
	// --data-source flag selects one entry per run.
	Sources map[string]*SourceConfig `yaml:"sources" json:"sources" jsonschema:"title=Data Sources,description=Named data sources the pipeline can process"`

	// Pipeline holds worker and stage tuning shared by all sources.
	Pipeline PipelineConfig `yaml:"pipeline,omitempty" json:"pipeline,omitempty" jsonschema:"title=Pipeline,description=Worker pool and stage tuning"`

	// Embedding configures the dense-embedding client and, in local mode,
	// the managed embedding server.
	Embedding EmbeddingConfig `yaml:"embedding,omitempty" json:"embedding,omitempty" jsonschema:"title=Embedding,description=Dense embedding client and local server"`

	// LLM configures the chat-completions client used by the summarize and
	// tag stages.
	LLM LLMConfig `yaml:"llm,omitempty" json:"llm,omitempty" jsonschema:"title=LLM,description=Chat completions backend for summarize and tag"`

	// Observability configures metrics and tracing.
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty" jsonschema:"title=Observability,description=Metrics and tracing"`
}

// SourceConfig configures one data source.
type SourceConfig struct {
	// Collection overrides the chunk collection name; defaults to
	// "<source>_chunks".
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"title=Collection,description=Chunk collection name override"`

	// Downloader describes the download subprocess for this source.
	Downloader *DownloaderConfig `yaml:"downloader,omitempty" json:"downloader,omitempty" jsonschema:"title=Downloader,description=Download subprocess command and args template"`

	// Database is the relational store holding document records. Defaults
	// to a SQLite file under the source's data directory.
	Database *DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,description=Relational document store"`

	// Vector is the vector store holding chunk embeddings. Defaults to an
	// embedded chromem database under the source's data directory.
	Vector *VectorConfig `yaml:"vector,omitempty" json:"vector,omitempty" jsonschema:"title=Vector Store,description=Vector store for chunk embeddings"`
}

// DownloaderConfig is the templated download subprocess for a source. Args
// entries may contain {key} placeholders resolved per run; when a
// placeholder has no value and the preceding entry is a --flag, both are
// dropped.
type DownloaderConfig struct {
	Command string   `yaml:"command" json:"command" jsonschema:"title=Command,description=Script or binary to run"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty" jsonschema:"title=Args,description=Argument template with {key} placeholders"`
}

// VectorConfig selects and configures the vector store provider.
type VectorConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=chromem,enum=qdrant,default=chromem"`

	// Qdrant connection settings (Provider == "qdrant").
	Host   string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,default=6334"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key"`
	UseTLS bool   `yaml:"use_tls,omitempty" json:"use_tls,omitempty" jsonschema:"title=Use TLS"`

	// Chromem settings (Provider == "chromem"). Path empty means in-memory.
	Path     string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"title=Path,description=Persistence directory for chromem"`
	Compress bool   `yaml:"compress,omitempty" json:"compress,omitempty" jsonschema:"title=Compress,description=Gzip chromem persistence files"`
}

// PipelineConfig tunes the worker pool, the stage machine, and the chunker.
type PipelineConfig struct {
	// Workers is the worker count W. 1 means in-process execution.
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty" jsonschema:"title=Workers,minimum=1,default=1"`

	// TaskTimeout bounds one document's trip through the stage machine.
	TaskTimeout time.Duration `yaml:"task_timeout,omitempty" json:"task_timeout,omitempty" jsonschema:"title=Task Timeout,default=600s"`

	// TasksPerWorker is the recycle threshold K_max: a worker is replaced
	// after processing this many documents to bound memory growth.
	TasksPerWorker int `yaml:"tasks_per_worker,omitempty" json:"tasks_per_worker,omitempty" jsonschema:"title=Tasks Per Worker,minimum=1,default=5"`

	// MaxTokens bounds chunk size under the embedding tokenizer.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,default=512"`

	// MinFreeMemoryGB is the resource-guard threshold: below this the
	// worker waits before starting a document.
	MinFreeMemoryGB float64 `yaml:"min_free_memory_gb,omitempty" json:"min_free_memory_gb,omitempty" jsonschema:"title=Min Free Memory GiB,default=2"`

	// MemoryWaitMax caps the total resource-guard wait per document.
	MemoryWaitMax time.Duration `yaml:"memory_wait_max,omitempty" json:"memory_wait_max,omitempty" jsonschema:"title=Memory Wait Max,default=600s"`

	// ConvertTimeout bounds the LibreOffice document-to-PDF conversion.
	ConvertTimeout time.Duration `yaml:"convert_timeout,omitempty" json:"convert_timeout,omitempty" jsonschema:"title=Convert Timeout,default=240s"`

	// ChunkTagger selects the per-chunk section classifier: "keyword"
	// (offline heuristic, default) or "llm".
	ChunkTagger string `yaml:"chunk_tagger,omitempty" json:"chunk_tagger,omitempty" jsonschema:"title=Chunk Tagger,enum=keyword,enum=llm,default=keyword"`
}

// Chunk tagger modes.
const (
	ChunkTaggerKeyword = "keyword"
	ChunkTaggerLLM     = "llm"
)

// Embedding server modes.
const (
	EmbeddingModeLocal  = "local"
	EmbeddingModeRemote = "remote"
)

// EmbeddingConfig configures the embedding client and local server.
type EmbeddingConfig struct {
	// Mode is "remote" (use a configured or discovered URL, default) or
	// "local" (always manage the bundled server subprocess).
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty" jsonschema:"title=Mode,enum=local,enum=remote,default=remote"`

	// URL of the embedding server. Defaults to $EMBEDDING_API_URL. Must be
	// empty in local mode.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL"`

	// ClusterURL is used when running inside a container and no URL is
	// configured.
	ClusterURL string `yaml:"cluster_url,omitempty" json:"cluster_url,omitempty" jsonschema:"title=Cluster URL,default=http://embedding-server:8080"`

	// Model is the dense embedding model name. Defaults to
	// $DENSE_EMBEDDING_MODEL.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model"`

	// Dimension of the dense vectors; used to create vector collections.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty" jsonschema:"title=Dimension,default=768"`

	// BatchSize bounds texts per /embeddings request.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty" jsonschema:"title=Batch Size,default=32"`

	// Timeout applies per HTTP request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=60s"`

	// MaxRetries for failed embedding requests.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,default=3"`

	// ServerCommand starts the local embedding server when no URL is
	// available, e.g. ["python", "-m", "embed_server"]. The chosen port is
	// appended as --port <n>.
	ServerCommand []string `yaml:"server_command,omitempty" json:"server_command,omitempty" jsonschema:"title=Server Command"`

	// ServerPort for the managed local server.
	ServerPort int `yaml:"server_port,omitempty" json:"server_port,omitempty" jsonschema:"title=Server Port,default=8876"`

	// HealthTimeout bounds the wait for the managed server to report
	// healthy.
	HealthTimeout time.Duration `yaml:"health_timeout,omitempty" json:"health_timeout,omitempty" jsonschema:"title=Health Timeout,default=60s"`
}

// LLMConfig configures the chat-completions client.
type LLMConfig struct {
	// URL is the base URL of an OpenAI-compatible chat completions API.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL"`

	// Model name sent with each request.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model"`

	// APIKey defaults to $OPENAI_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key"`

	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=120s"`
	MaxTokens   int           `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,default=2048"`
	Temperature float64       `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,default=0.1"`
}

// ObservabilityConfig configures the ops endpoint, metrics, and tracing.
type ObservabilityConfig struct {
	// Enabled turns on the ops HTTP server with /metrics and /healthz.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`

	// Addr the ops server listens on.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty" jsonschema:"title=Address,default=:9090"`

	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty" jsonschema:"title=Tracing"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`
	Endpoint     string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint,default=localhost:4317"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty" jsonschema:"title=Sampling Rate,default=1.0"`
	ServiceName  string  `yaml:"service_name,omitempty" json:"service_name,omitempty" jsonschema:"title=Service Name,default=docpipe"`
}

// SetDefaults applies default values across the whole configuration tree.
func (c *Config) SetDefaults() {
	for name, src := range c.Sources {
		if src == nil {
			src = &SourceConfig{}
			c.Sources[name] = src
		}
		src.SetDefaults(name)
	}
	c.Pipeline.SetDefaults()
	c.Embedding.SetDefaults()
	c.LLM.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the configuration tree.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one data source is required")
	}
	for name, src := range c.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("source %q: %w", name, err)
		}
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	return nil
}

// Source returns the configuration for a named data source.
func (c *Config) Source(name string) (*SourceConfig, error) {
	src, ok := c.Sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown data source: %q", name)
	}
	return src, nil
}

// SetDefaults fills in per-source defaults derived from the source name and
// the data mount path.
func (s *SourceConfig) SetDefaults(name string) {
	if s.Collection == "" {
		s.Collection = name + "_chunks"
	}
	dataDir := filepath.Join(DataMountPath(), name)
	if s.Database == nil {
		s.Database = &DatabaseConfig{
			Driver:   "sqlite",
			Database: filepath.Join(dataDir, name+".db"),
		}
	}
	s.Database.SetDefaults()
	if s.Vector == nil {
		s.Vector = &VectorConfig{}
	}
	if s.Vector.Provider == "" {
		s.Vector.Provider = "chromem"
	}
	if s.Vector.Provider == "chromem" && s.Vector.Path == "" {
		s.Vector.Path = filepath.Join(dataDir, "vectors")
	}
	if s.Vector.Provider == "qdrant" && s.Vector.Port == 0 {
		s.Vector.Port = 6334
	}
}

// Validate checks one source's configuration.
func (s *SourceConfig) Validate() error {
	if s.Database != nil {
		if err := s.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.Vector != nil {
		switch s.Vector.Provider {
		case "chromem":
		case "qdrant":
			if s.Vector.Host == "" {
				return fmt.Errorf("vector: qdrant host is required")
			}
		default:
			return fmt.Errorf("vector: unknown provider %q", s.Vector.Provider)
		}
	}
	if s.Downloader != nil && s.Downloader.Command == "" {
		return fmt.Errorf("downloader: command is required")
	}
	return nil
}

// SetDefaults applies pipeline tuning defaults.
func (p *PipelineConfig) SetDefaults() {
	if p.Workers == 0 {
		p.Workers = 1
	}
	if p.TaskTimeout == 0 {
		p.TaskTimeout = 600 * time.Second
	}
	if p.TasksPerWorker == 0 {
		p.TasksPerWorker = 5
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 512
	}
	if p.MinFreeMemoryGB == 0 {
		p.MinFreeMemoryGB = 2
	}
	if p.MemoryWaitMax == 0 {
		p.MemoryWaitMax = 600 * time.Second
	}
	if p.ConvertTimeout == 0 {
		p.ConvertTimeout = 240 * time.Second
	}
	if p.ChunkTagger == "" {
		p.ChunkTagger = ChunkTaggerKeyword
	}
}

// Validate checks pipeline tuning.
func (p *PipelineConfig) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if p.TasksPerWorker < 1 {
		return fmt.Errorf("tasks_per_worker must be at least 1")
	}
	if p.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1")
	}
	switch p.ChunkTagger {
	case ChunkTaggerKeyword, ChunkTaggerLLM:
	default:
		return fmt.Errorf("unknown chunk_tagger %q", p.ChunkTagger)
	}
	return nil
}

// SetDefaults fills embedding defaults from the environment.
func (e *EmbeddingConfig) SetDefaults() {
	if e.Mode == "" {
		e.Mode = EmbeddingModeRemote
	}
	if e.URL == "" && e.Mode != EmbeddingModeLocal {
		e.URL = EmbeddingAPIURL()
	}
	if e.ClusterURL == "" {
		e.ClusterURL = "http://embedding-server:8080"
	}
	if e.Model == "" {
		e.Model = DenseEmbeddingModel()
	}
	if e.Dimension == 0 {
		e.Dimension = 768
	}
	if e.BatchSize == 0 {
		e.BatchSize = 32
	}
	if e.Timeout == 0 {
		e.Timeout = 60 * time.Second
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 3
	}
	if e.ServerPort == 0 {
		e.ServerPort = 8876
	}
	if e.HealthTimeout == 0 {
		e.HealthTimeout = 60 * time.Second
	}
}

// Validate checks the embedding configuration. Local mode refuses a
// configured URL so the two never silently disagree.
func (e *EmbeddingConfig) Validate() error {
	switch e.Mode {
	case EmbeddingModeLocal:
		if e.URL != "" {
			return fmt.Errorf("mode is local but an embedding URL is configured; unset one")
		}
		if len(e.ServerCommand) == 0 {
			return fmt.Errorf("local mode requires server_command")
		}
	case EmbeddingModeRemote:
	default:
		return fmt.Errorf("unknown mode %q", e.Mode)
	}
	if e.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	return nil
}

// SetDefaults applies LLM client defaults.
func (l *LLMConfig) SetDefaults() {
	if l.APIKey == "" {
		l.APIKey = GetProviderAPIKey("openai")
	}
	if l.Timeout == 0 {
		l.Timeout = 120 * time.Second
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 2048
	}
	if l.Temperature == 0 {
		l.Temperature = 0.1
	}
}

// SetDefaults applies observability defaults.
func (o *ObservabilityConfig) SetDefaults() {
	if o.Addr == "" {
		o.Addr = ":9090"
	}
	if o.Tracing.Endpoint == "" {
		o.Tracing.Endpoint = "localhost:4317"
	}
	if o.Tracing.SamplingRate == 0 {
		o.Tracing.SamplingRate = 1.0
	}
	if o.Tracing.ServiceName == "" {
		o.Tracing.ServiceName = "docpipe"
	}
}
