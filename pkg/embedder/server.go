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

package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/kadirpekel/docpipe/pkg/config"
	"github.com/kadirpekel/docpipe/pkg/logger"
)

// containerMarkers are files whose presence means we run inside a
// container, where a cluster-local embedding service is reachable.
var containerMarkers = []string{"/.dockerenv", "/run/.containerenv"}

// ServerManager resolves the embedding server URL for a run, starting a
// managed local subprocess when nothing else is available.
type ServerManager struct {
	cfg     *config.EmbeddingConfig
	cmd     *exec.Cmd
	url     string
	managed bool
	logger  *slog.Logger
}

func NewServerManager(cfg *config.EmbeddingConfig) *ServerManager {
	return &ServerManager{
		cfg:    cfg,
		logger: logger.GetLogger().With("component", "embedding-server"),
	}
}

// Resolve picks the URL embedding clients should use. In local mode the
// managed server is the only option, so one is started whenever the index
// stage needs it. In remote mode a configured URL wins; inside a container
// the cluster URL is assumed; otherwise a managed server is started as a
// fallback. When the index stage is disabled no server is started and the
// returned URL may be empty, in which case later stages that still want
// embeddings fail when they try to connect.
func (m *ServerManager) Resolve(ctx context.Context, indexEnabled bool) (string, error) {
	if m.cfg.Mode == config.EmbeddingModeLocal {
		if !indexEnabled {
			return "", nil
		}
		return m.start(ctx)
	}
	if m.cfg.URL != "" {
		return m.cfg.URL, nil
	}
	if inContainer() {
		m.logger.Info("Container environment detected, using cluster embedding URL", "url", m.cfg.ClusterURL)
		return m.cfg.ClusterURL, nil
	}
	if !indexEnabled {
		return "", nil
	}
	if len(m.cfg.ServerCommand) == 0 {
		return "", fmt.Errorf("no embedding URL configured and no server command to start one")
	}
	return m.start(ctx)
}

// Managed reports whether this run owns an embedding server subprocess.
func (m *ServerManager) Managed() bool {
	return m.managed
}

// URL returns the resolved URL, empty until Resolve succeeds.
func (m *ServerManager) URL() string {
	return m.url
}

func (m *ServerManager) start(ctx context.Context) (string, error) {
	if m.url != "" {
		return m.url, nil
	}
	if len(m.cfg.ServerCommand) == 0 {
		return "", fmt.Errorf("embedding server command is not configured")
	}

	url := fmt.Sprintf("http://127.0.0.1:%d", m.cfg.ServerPort)
	args := append([]string{}, m.cfg.ServerCommand[1:]...)
	args = append(args, "--port", strconv.Itoa(m.cfg.ServerPort))

	cmd := exec.Command(m.cfg.ServerCommand[0], args...)
	// Cap BLAS/OMP thread pools so the model server does not oversubscribe
	// cores shared with the pipeline workers.
	cmd.Env = append(os.Environ(), config.ThreadCapEnv()...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	m.logger.Info("Starting embedding server", "command", m.cfg.ServerCommand[0], "port", m.cfg.ServerPort)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start embedding server: %w", err)
	}
	m.cmd = cmd
	m.managed = true

	if err := waitHealthy(ctx, url, m.cfg.HealthTimeout); err != nil {
		m.Shutdown()
		return "", err
	}

	m.url = url
	// Exported so worker subprocesses inherit the resolved endpoint.
	os.Setenv(config.EnvEmbeddingAPIURL, url)
	m.logger.Info("Embedding server ready", "url", url)
	return url, nil
}

// Shutdown stops the managed server if one was started. Safe to call
// multiple times and when nothing is managed.
func (m *ServerManager) Shutdown() {
	if m.cmd == nil || m.cmd.Process == nil {
		return
	}
	m.logger.Info("Stopping embedding server", "pid", m.cmd.Process.Pid)
	_ = m.cmd.Process.Kill()
	_ = m.cmd.Wait()
	m.cmd = nil
	m.managed = false
	m.url = ""
}

// waitHealthy polls GET /health until it returns 200 or the timeout
// elapses.
func waitHealthy(ctx context.Context, baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("embedding server not healthy after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func inContainer() bool {
	for _, marker := range containerMarkers {
		if _, err := os.Stat(marker); err == nil {
			return true
		}
	}
	return false
}
