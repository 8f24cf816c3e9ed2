// Package textextract pulls plain text out of binary document formats.
// The OCR step tries these native extractors on the downloaded file
// before paying for a vision-model transcription; Usable decides
// whether what came out (or what the DMS already had) is good enough.
package textextract

import (
	"strings"
	"unicode"
)

// Extractor handles one binary format.
type Extractor interface {
	Name() string

	// Matches reports whether the extractor handles a file, by MIME
	// type or filename extension.
	Matches(filename, mimeType string) bool

	Extract(data []byte) (string, error)
}

// Registry tries extractors in registration order.
type Registry struct {
	extractors []Extractor
}

func NewRegistry() *Registry {
	return &Registry{
		extractors: []Extractor{PDF{}, DOCX{}, XLSX{}},
	}
}

// Extract runs the first matching extractor. The second return is
// false when no extractor handles the format.
func (r *Registry) Extract(filename, mimeType string, data []byte) (string, bool, error) {
	for _, ex := range r.extractors {
		if !ex.Matches(filename, mimeType) {
			continue
		}
		text, err := ex.Extract(data)
		return text, true, err
	}
	return "", false, nil
}

const (
	minUsableRunes = 50
	minLetterRatio = 0.4
)

// Usable reports whether text is worth feeding to the models instead
// of re-extracting via the vision model: long enough, and mostly
// letters and digits rather than OCR noise.
func Usable(text string) bool {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) < minUsableRunes {
		return false
	}

	letters := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			letters++
		}
	}
	return float64(letters)/float64(len(runes)) >= minLetterRatio
}
