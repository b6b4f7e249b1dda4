package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps formats to parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns a registry with the PDF, HTML and text parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&PDFParser{}, &HTMLParser{}, &TextParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser for format. The format is matched case
// insensitively, with or without a leading dot.
func (r *Registry) Get(format string) (Parser, error) {
	key := strings.ToLower(strings.TrimPrefix(format, "."))
	r.mu.RLock()
	p, ok := r.parsers[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Register adds or replaces the parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.mu.Lock()
	r.parsers[strings.ToLower(format)] = p
	r.mu.Unlock()
}

// Formats lists the registered formats in order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ParseFile detects the format of path and parses it. It returns the
// canonical format alongside the result.
func (r *Registry) ParseFile(ctx context.Context, path string) (*ParseResult, string, error) {
	format := DetectFormat(path)
	p, err := r.Get(format)
	if err != nil {
		return nil, format, err
	}
	res, err := p.Parse(ctx, path)
	if err != nil {
		return nil, format, fmt.Errorf("parsing %s: %w", format, err)
	}
	return res, format, nil
}
