// Package parser extracts plain text sections from regulatory documents.
package parser

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned when no parser handles a format.
var ErrUnsupportedFormat = errors.New("parser: unsupported format")

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section // Ordered sections extracted from the document
	Method   string    // "native"
	Metadata map[string]string
}

// Section is a logical section of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int // Heading level (1=top, 2=sub, etc.)
	PageNumber int
	Type       string // "section", "definition", "obligation", "penalty", "table", "annex"
}

// Text joins the sections into the plain text handed to the segmenter.
// Headings stay on their own line so article references survive.
func (r *ParseResult) Text() string {
	var parts []string
	for _, s := range r.Sections {
		var b strings.Builder
		if s.Heading != "" {
			b.WriteString(s.Heading)
		}
		if s.Content != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(s.Content)
		}
		if b.Len() > 0 {
			parts = append(parts, b.String())
		}
	}
	return strings.Join(parts, "\n\n")
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}

// DetectFormat returns the canonical format of path from its extension:
// "pdf", "html" or "txt" for the built-in formats, the bare lowercase
// extension otherwise.
func DetectFormat(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "htm", "xhtml":
		return "html"
	case "text", "":
		return "txt"
	}
	return ext
}
