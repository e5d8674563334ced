// Package stub provides a fast, deterministic AI client for local
// development when no Groq API key is configured.
package stub

import (
	"strings"
	"time"

	"github.com/fairyhunter13/skillpath-ai/internal/domain"
)

// Client answers every completion locally. List-shaped prompts get a JSON
// array; everything else gets a canned tutor reply.
type Client struct{}

// New constructs a stub client.
func New() *Client { return &Client{} }

// Complete implements domain.AIClient.
func (c *Client) Complete(_ domain.Context, messages []domain.ChatMessage, _ int) (string, error) {
	// Simulate a tiny bit of processing latency to resemble real work
	time.Sleep(50 * time.Millisecond)
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	if strings.Contains(last, "JSON array") {
		if strings.Contains(last, "exams") || strings.Contains(last, "certifications") {
			return `["Sample Certification Exam"]`, nil
		}
		return `["Sample Book", "Sample Online Course", "Sample Reference Site"]`, nil
	}
	return "Here's a quick explanation to get you started. Ask a follow-up question to go deeper.", nil
}
