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

// Package llm provides the chat-completions client used by the summarize
// stage and the optional LLM chunk tagger. Any OpenAI-compatible endpoint
// works; the backend itself is an external collaborator.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/docpipe/pkg/config"
)

// Message roles understood by chat-completions backends.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one turn of a chat-completions conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the completion capability processors depend on.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	ModelName() string
}

// OpenAIClient talks to an OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func parseErrorResponse(body []byte) *apiError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

// NewClient builds a client from the LLM configuration. The URL is
// required; the API key is optional for local backends.
func NewClient(cfg *config.LLMConfig) (*OpenAIClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("llm url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	return &OpenAIClient{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimSuffix(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends the messages and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	requestBody, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if apiErr := parseErrorResponse(body); apiErr != nil {
			return "", fmt.Errorf("API request failed with status %d: %s (type: %s, code: %s)",
				resp.StatusCode, apiErr.Message, apiErr.Type, apiErr.Code)
		}
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if response.Error != nil {
		return "", fmt.Errorf("API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) ModelName() string {
	return c.model
}
