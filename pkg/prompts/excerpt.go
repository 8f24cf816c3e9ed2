package prompts

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Excerpt budgets are measured in cl100k_base tokens. The exact
// tokenizer matters less than a stable budget shared by every
// template, so one encoding serves all models.
const excerptEncoding = "cl100k_base"

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// Excerpt clips text to at most maxTokens tokens. The result is always
// a prefix of the input. When the tokenizer cannot be loaded the
// budget is approximated at four characters per token.
func Excerpt(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return ""
	}

	enc := loadEncoding()
	if enc == nil {
		return approxClip(text, maxTokens)
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	clipped := enc.Decode(tokens[:maxTokens])
	// A token boundary can split a multi-byte rune.
	return strings.ToValidUTF8(clipped, "")
}

func loadEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(excerptEncoding)
		if err != nil {
			slog.Warn("Tokenizer unavailable, approximating excerpt budgets",
				"encoding", excerptEncoding, "error", err)
			return
		}
		encoding = enc
	})
	return encoding
}

func approxClip(text string, maxTokens int) string {
	runes := []rune(text)
	max := maxTokens * 4
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
