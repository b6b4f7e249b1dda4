package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// TextParser handles plain text files. Input that is not valid UTF-8 is
// decoded as Windows-1252.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "text"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	encoding := "utf-8"
	content := strings.TrimPrefix(string(data), "\ufeff")
	if !utf8.ValidString(content) {
		decoded, err := charmap.Windows1252.NewDecoder().String(content)
		if err != nil {
			return nil, fmt.Errorf("decoding text file: %w", err)
		}
		content, encoding = decoded, "windows-1252"
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")

	return &ParseResult{
		Sections: splitPageIntoSections(content, 1),
		Method:   "native",
		Metadata: map[string]string{"encoding": encoding},
	}, nil
}
