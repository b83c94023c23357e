// Package extract provides text extraction from uploaded documents.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrExtraction is returned when a structured document (docx, pdf, ...) cannot be parsed.
	ErrExtraction = errors.New("extraction failed")
	// ErrDecode is returned when a plain-text document is not valid UTF-8.
	ErrDecode = errors.New("decode failed")
	// ErrUnsupported is returned by callers that filter files by extension before extracting.
	ErrUnsupported = errors.New("unsupported file type")
)

// Extractor extracts plain text from document bytes.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Base(path))
}

// ExtractBytes extracts text from content. The filename is used only to pick a parser by its
// (case-insensitive) extension: .docx, .pdf, .xlsx and .pptx get dedicated parsers, anything
// else is decoded as UTF-8 text.
func (e *Extractor) ExtractBytes(content []byte, filename string) (string, error) {
	switch Ext(filename) {
	case ".docx":
		return extractDOCX(content)
	case ".pdf":
		return extractPDF(content)
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	default:
		return extractPlain(content)
	}
}

// Supported reports whether filename has a dedicated parser.
func (e *Extractor) Supported(filename string) bool {
	switch Ext(filename) {
	case ".docx", ".pdf", ".xlsx", ".pptx":
		return true
	}
	return false
}

// Ext returns the lower-cased extension of filename including the leading dot.
func Ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
