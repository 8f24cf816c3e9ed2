package llm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// SplitThinking separates an inline reasoning prefix from the answer.
// Models without a reasoning side channel emit their trace as a
// <think>...</think> block ahead of the real content; providers call
// this so the response surfaces thinking the same way regardless of
// where the model put it. Text without the prefix passes through
// untouched. An unterminated block is treated as all thinking.
func SplitThinking(text string) (thinking, rest string) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, thinkOpen) {
		return "", text
	}
	body := trimmed[len(thinkOpen):]
	end := strings.Index(body, thinkClose)
	if end < 0 {
		return strings.TrimSpace(body), ""
	}
	thinking = strings.TrimSpace(body[:end])
	rest = strings.TrimLeft(body[end+len(thinkClose):], " \t\r\n")
	return thinking, rest
}
