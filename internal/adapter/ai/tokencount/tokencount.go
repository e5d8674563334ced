// Package tokencount estimates token counts for LLM prompts.
//
// It uses tiktoken-go, a Go port of OpenAI's tiktoken library, so that
// conversation history can be trimmed to a prompt budget before dispatch
// instead of being rejected by the provider for exceeding the context
// window.
package tokencount

import (
	"sync"

	"log/slog"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter provides thread-safe token counting.
type Counter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewCounter creates a token counter. Llama-family models served by Groq
// have no tiktoken registration, so cl100k_base is used as a close-enough
// estimator; trimming only needs to be conservative, not exact.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) encoding() *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, falling back to length estimate", slog.Any("error", err))
			return nil
		}
		c.enc = enc
	}
	return c.enc
}

// Count returns the token count of text. When the encoding cannot be
// loaded it falls back to a characters/4 estimate.
func (c *Counter) Count(text string) int {
	enc := c.encoding()
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
