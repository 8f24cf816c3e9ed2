package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeStructured unmarshals a structured-output response into out.
// Models wrap JSON in code fences or leak trailing prose often enough
// that a strict unmarshal is not good enough: the raw text is trimmed
// to its outermost JSON value and, when that still fails, run through
// jsonrepair before giving up with a ParseError.
func DecodeStructured(resp *Response, out any) error {
	raw := extractJSON(resp.Text)
	if raw == "" {
		return &ParseError{Raw: resp.Text, Err: fmt.Errorf("no JSON value in response")}
	}

	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return &ParseError{Raw: resp.Text, Err: err}
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return &ParseError{Raw: resp.Text, Err: err}
	}
	return nil
}

// extractJSON strips code fences and surrounding prose, returning the
// outermost {...} or [...] span of the text.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closing := byte('}')
	if s[start] == '[' {
		closing = ']'
	}
	end := strings.LastIndexByte(s, closing)
	if end <= start {
		// Truncated output; let jsonrepair close it.
		return s[start:]
	}
	return s[start : end+1]
}
