package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfReader extracts text content from PDF files for parse_file.
type pdfReader struct {
	maxPages int // Maximum pages to extract (0 = all)
}

func newPDFReader() *pdfReader {
	return &pdfReader{
		maxPages: 50, // Default: first 50 pages
	}
}

func (t *pdfReader) read(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", newToolError("parse_file", ErrKindInvalidArgs, "file not found: "+path)
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", newToolError("parse_file", ErrKindUnsupportedFormat, "open PDF: "+err.Error())
	}
	defer f.Close()

	var text strings.Builder
	numPages := r.NumPage()
	maxPages := t.maxPages
	if maxPages <= 0 || maxPages > numPages {
		maxPages = numPages
	}

	for i := 1; i <= maxPages; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		text.WriteString(fmt.Sprintf("--- Page %d ---\n", i))
		text.WriteString(content)
		text.WriteString("\n\n")
	}

	if maxPages < numPages {
		text.WriteString(fmt.Sprintf("\n...[truncated after %d of %d pages]\n", maxPages, numPages))
	}

	result := text.String()
	const maxLen = 100000
	if len(result) > maxLen {
		result = result[:maxLen] + "\n...[truncated]"
	}

	return result, nil
}
