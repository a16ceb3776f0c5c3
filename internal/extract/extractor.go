// Package extract validates submitted files and extracts a text preview from
// document formats for the analysis archive.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/asil/pkg/utils"
)

// MaxPreviewRunes bounds the stored text preview of a document.
const MaxPreviewRunes = 4000

var (
	// ErrUnsupportedType is returned for file extensions outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge is returned for files over the size limit.
	ErrTooLarge = errors.New("file too large")
	// ErrEmptyFile is returned for zero-length uploads.
	ErrEmptyFile = errors.New("empty file")
	// ErrTypeMismatch is returned when the content does not look like its extension.
	ErrTypeMismatch = errors.New("file content does not match extension")
)

// Extractor extracts plain text from document files.
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
	return e.ExtractBytes(content, Ext(path))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Images have no text and
// yield an empty string.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		return extractODT(content)
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return "", nil
	default:
		return extractPlain(content)
	}
}

// Preview returns at most MaxPreviewRunes of extracted text with whitespace runs
// collapsed, for indexing alongside the analysis.
func (e *Extractor) Preview(content []byte, ext string) (string, error) {
	text, err := e.ExtractBytes(content, ext)
	if err != nil {
		return "", err
	}
	return utils.Truncate(strings.Join(strings.Fields(text), " "), MaxPreviewRunes), nil
}

// Ext returns the lower-cased extension of name, including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
