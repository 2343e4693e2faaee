package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// docxReader extracts text content from DOCX files for parse_file.
type docxReader struct{}

func newDOCXReader() *docxReader { return &docxReader{} }

func (t *docxReader) read(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", newToolError("parse_file", ErrKindInvalidArgs, "file not found: "+path)
	}

	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", newToolError("parse_file", ErrKindUnsupportedFormat, "open DOCX: "+err.Error())
	}
	defer r.Close()

	// Extract text content
	doc := r.Editable()
	content := doc.GetContent()

	// Clean up whitespace
	content = cleanDocxContent(content)

	// Truncate if too long
	const maxLen = 100000
	if len(content) > maxLen {
		content = content[:maxLen] + "\n...[truncated]"
	}

	return content, nil
}

// cleanDocxContent normalizes whitespace and formatting in extracted DOCX text.
func cleanDocxContent(s string) string {
	// Replace multiple newlines with double newline (paragraph separator)
	lines := strings.Split(s, "\n")
	var cleaned []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, "\n\n")
}
