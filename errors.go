package lexgraph

import (
	"errors"
	"fmt"

	"github.com/brunobiangulo/lexgraph/embedding"
	"github.com/brunobiangulo/lexgraph/parser"
	"github.com/brunobiangulo/lexgraph/rag"
	"github.com/brunobiangulo/lexgraph/vector"
)

var (
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("lexgraph: not found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("lexgraph: invalid configuration")

	// ErrEmptyText is returned when a document yields no text to segment.
	ErrEmptyText = errors.New("lexgraph: document has no text")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = parser.ErrUnsupportedFormat

	// ErrDimensionMismatch is returned when a vector has the wrong length.
	ErrDimensionMismatch = vector.ErrDimensionMismatch

	// ErrEmbeddingService is returned when the embedding service fails.
	ErrEmbeddingService = embedding.ErrEmbeddingService

	// ErrAnswerGeneration is returned when the completion service fails
	// after retrieval succeeded.
	ErrAnswerGeneration = rag.ErrAnswerGeneration
)

// NotFoundError reports an unknown id passed to a mutation or lookup.
type NotFoundError struct {
	Op   string
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lexgraph: %s: %s %q not found", e.Op, e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
