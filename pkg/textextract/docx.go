package textextract

import (
	"bytes"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

type DOCX struct{}

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

func (DOCX) Name() string { return "docx" }

func (DOCX) Matches(filename, mimeType string) bool {
	return mimeType == docxMIME ||
		strings.EqualFold(filepath.Ext(filename), ".docx")
}

func (DOCX) Extract(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	defer doc.Close()

	return docxPlainText(doc.Editable().GetContent()), nil
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxTab          = regexp.MustCompile(`<w:tab[^>]*/?>`)
	docxTag          = regexp.MustCompile(`<[^>]+>`)
	docxBlankLines   = regexp.MustCompile(`\n{3,}`)
)

// docxPlainText strips the WordprocessingML markup the docx library
// returns, keeping paragraph and tab structure.
func docxPlainText(raw string) string {
	text := docxParagraphEnd.ReplaceAllString(raw, "\n")
	text = docxTab.ReplaceAllString(text, "\t")
	text = docxTag.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = docxBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
