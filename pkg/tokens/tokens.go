// Package tokens provides token counting against the embedding model's
// tokenizer, used to bound chunk sizes and prompt budgets.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens for a specific model's encoding.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	// Cache encodings to avoid repeated initialization.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewCounter creates a counter for the given model. Models unknown to
// tiktoken fall back to cl100k_base, which tracks sentence-transformer
// tokenizers closely enough for chunk bounding.
func NewCounter(model string) (*Counter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &Counter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Counter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.encoding.Encode(text, nil, nil))
}

// Truncate cuts text to at most maxTokens tokens, decoding back to a valid
// string. Used to budget document text sent to the summarizer.
func (c *Counter) Truncate(text string, maxTokens int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.encoding.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return c.encoding.Decode(ids[:maxTokens])
}

// Model returns the model name this counter is configured for.
func (c *Counter) Model() string {
	return c.model
}

// Estimate provides a rough token estimate for when no counter is available:
// about four characters per token.
func Estimate(text string) int {
	return len(text) / 4
}
