package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterCount(t *testing.T) {
	counter, err := NewCounter("text-embedding-ada")
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}

	assert.Equal(t, "text-embedding-ada", counter.Model())
	assert.Equal(t, 0, counter.Count(""))

	short := counter.Count("Hello world")
	assert.GreaterOrEqual(t, short, 1)
	assert.LessOrEqual(t, short, 5)

	long := counter.Count("The evaluation found that budget execution improved across all districts.")
	assert.Greater(t, long, short)
}

func TestCounterTruncate(t *testing.T) {
	counter, err := NewCounter("text-embedding-ada")
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}

	text := "one two three four five six seven eight nine ten"
	cut := counter.Truncate(text, 4)
	assert.LessOrEqual(t, counter.Count(cut), 4)
	assert.Equal(t, "short", counter.Truncate("short", 100),
		"under-limit text should pass through unchanged")
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 2, Estimate("12345678"))
	assert.Equal(t, 0, Estimate(""))
}
