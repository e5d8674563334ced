// Package parser turns raw AI completion text into validated structured
// values. Upstream output is untrusted: every entry point is total and
// degrades to a safe default instead of erroring, so a malformed reply can
// never fail the calling feature.
package parser

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// FallbackReply substitutes an empty assistant reply.
const FallbackReply = "I couldn't generate a response, please try again."

// ParseList decodes rawText into a list of strings. The model is prompted
// to return a JSON array of strings but routinely wraps it in markdown
// fences or prose; ParseList strips the wrapping, extracts the first JSON
// array, and decodes strictly. Any failure returns an empty slice with
// ok=false so the caller can degrade and record the warning; it never
// errors.
func ParseList(rawText string) (list []string, ok bool) {
	cleaned := stripMarkdownFences(rawText)
	js, found := extractFirstJSONArray(cleaned)
	if !found {
		slog.Warn("no JSON array in AI response", slog.Int("length", len(rawText)))
		return []string{}, false
	}
	var out []string
	if err := json.Unmarshal([]byte(js), &out); err != nil {
		slog.Warn("AI response array failed to decode", slog.Any("error", err))
		return []string{}, false
	}
	res := make([]string, 0, len(out))
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			res = append(res, s)
		}
	}
	return res, true
}

// ParseReply passes assistant text through, substituting FallbackReply for
// blank output.
func ParseReply(rawText string) string {
	s := strings.TrimSpace(rawText)
	if s == "" {
		return FallbackReply
	}
	return s
}

// ExtractCode splits the first fenced code block out of an assistant
// reply so the UI can render it separately. The surrounding prose is
// returned with the fence removed; text without a fence passes through
// with an empty code payload.
func ExtractCode(reply string) (text, code string) {
	start := strings.Index(reply, "```")
	if start == -1 {
		return reply, ""
	}
	rest := reply[start+3:]
	// Skip an optional language tag on the opening fence line.
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && nl <= 20 && !strings.ContainsAny(rest[:nl], " `") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return reply, ""
	}
	code = strings.TrimSpace(rest[:end])
	text = strings.TrimSpace(reply[:start] + rest[end+3:])
	return text, code
}

// stripMarkdownFences removes ```json / ``` markers around the payload.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractFirstJSONArray finds the first balanced [...] in s. Bracket
// matching tracks string literals so brackets inside values do not
// terminate the scan early.
func extractFirstJSONArray(s string) (string, bool) {
	start := strings.Index(s, "[")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
