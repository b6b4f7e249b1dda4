package lexgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/lexgraph/compliance"
	"github.com/brunobiangulo/lexgraph/embedding"
	"github.com/brunobiangulo/lexgraph/llm"
	"github.com/brunobiangulo/lexgraph/rag"
	"github.com/brunobiangulo/lexgraph/retrieval"
	"github.com/brunobiangulo/lexgraph/segmenter"
)

// Index backends.
const (
	IndexFlat      = "flat"
	IndexSQLiteVec = "sqlite-vec"
)

// Graph extractors.
const (
	ExtractorPattern = "pattern"
	ExtractorLLM     = "llm"
)

// Config holds all configuration for the lexgraph engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.lexgraph/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the database name used when DBPath is empty.
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not set: "home" (default) uses ~/.lexgraph/, "local" the
	// working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat      llm.Config `json:"chat" yaml:"chat"`
	Embedding llm.Config `json:"embedding" yaml:"embedding"`

	// EmbeddingDim must match the embedding model. A database created with
	// one dimension refuses to open with another.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// IndexBackend is "flat" (in memory, warmed from the database) or
	// "sqlite-vec".
	IndexBackend string `json:"index_backend" yaml:"index_backend"`

	// GraphExtractor is "pattern" or "llm".
	GraphExtractor   string `json:"graph_extractor" yaml:"graph_extractor"`
	GraphConcurrency int    `json:"graph_concurrency" yaml:"graph_concurrency"`

	// IngestConcurrency bounds how many documents IngestBatch embeds at once.
	IngestConcurrency int `json:"ingest_concurrency" yaml:"ingest_concurrency"`

	// DefaultTopK is used when a search or question passes topK <= 0.
	DefaultTopK int `json:"default_top_k" yaml:"default_top_k"`

	Segmenter      segmenter.Config  `json:"segmenter" yaml:"segmenter"`
	EmbeddingBatch embedding.Config  `json:"embedding_batch" yaml:"embedding_batch"`
	Retrieval      retrieval.Config  `json:"retrieval" yaml:"retrieval"`
	RAG            rag.Config        `json:"rag" yaml:"rag"`
	Compliance     compliance.Config `json:"compliance" yaml:"compliance"`
}

// DefaultConfig returns a Config with defaults for local inference.
func DefaultConfig() Config {
	return Config{
		DBName:     "lexgraph",
		StorageDir: "home",
		Chat: llm.Config{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
			Retry:    llm.DefaultRetryPolicy(),
		},
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
			Retry:    llm.DefaultRetryPolicy(),
		},
		EmbeddingDim:      768,
		IndexBackend:      IndexFlat,
		GraphExtractor:    ExtractorPattern,
		GraphConcurrency:  4,
		IngestConcurrency: 4,
		DefaultTopK:       5,
		Segmenter:         segmenter.Config{MaxChars: segmenter.DefaultMaxChars},
		EmbeddingBatch:    embedding.Config{BatchSize: 32, MaxInputChars: 8000},
		Retrieval:         retrieval.Config{MaxTopK: retrieval.DefaultMaxTopK},
		RAG:               rag.DefaultConfig(),
		Compliance:        compliance.DefaultConfig(),
	}
}

// LoadConfig reads a JSON or YAML (by .yaml/.yml extension) file over
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, filepath.Base(path), err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LEXGRAPH_* environment variables and fills
// missing API keys from the well-known provider variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"LEXGRAPH_DB_PATH":         &c.DBPath,
		"LEXGRAPH_INDEX_BACKEND":   &c.IndexBackend,
		"LEXGRAPH_GRAPH_EXTRACTOR": &c.GraphExtractor,
		"LEXGRAPH_CHAT_PROVIDER":   &c.Chat.Provider,
		"LEXGRAPH_CHAT_MODEL":      &c.Chat.Model,
		"LEXGRAPH_CHAT_BASE_URL":   &c.Chat.BaseURL,
		"LEXGRAPH_CHAT_API_KEY":    &c.Chat.APIKey,
		"LEXGRAPH_EMBED_PROVIDER":  &c.Embedding.Provider,
		"LEXGRAPH_EMBED_MODEL":     &c.Embedding.Model,
		"LEXGRAPH_EMBED_BASE_URL":  &c.Embedding.BaseURL,
		"LEXGRAPH_EMBED_API_KEY":   &c.Embedding.APIKey,
		"LEXGRAPH_STORAGE_DIR":     &c.StorageDir,
		"LEXGRAPH_DB_NAME":         &c.DBName,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("LEXGRAPH_EMBEDDING_DIM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: LEXGRAPH_EMBEDDING_DIM=%q", ErrInvalidConfig, v)
		}
		c.EmbeddingDim = n
	}
	if v := os.Getenv("LEXGRAPH_SOURCES_ON_FAILURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: LEXGRAPH_SOURCES_ON_FAILURE=%q", ErrInvalidConfig, v)
		}
		c.RAG.SourcesOnlyOnFailure = b
	}

	for _, lc := range []*llm.Config{&c.Chat, &c.Embedding} {
		if lc.APIKey != "" {
			continue
		}
		switch lc.Provider {
		case "openai":
			lc.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			lc.APIKey = os.Getenv("GROQ_API_KEY")
		case "openrouter":
			lc.APIKey = os.Getenv("OPENROUTER_API_KEY")
		case "dashscope":
			lc.APIKey = os.Getenv("DASHSCOPE_API_KEY")
		}
	}
	return nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding_dim must be positive, got %d", ErrInvalidConfig, c.EmbeddingDim)
	}
	switch c.IndexBackend {
	case IndexFlat, IndexSQLiteVec:
	default:
		return fmt.Errorf("%w: unknown index_backend %q", ErrInvalidConfig, c.IndexBackend)
	}
	switch c.GraphExtractor {
	case ExtractorPattern, ExtractorLLM:
	default:
		return fmt.Errorf("%w: unknown graph_extractor %q", ErrInvalidConfig, c.GraphExtractor)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("%w: retrieval.min_similarity must be in [0, 1], got %.2f", ErrInvalidConfig, c.Retrieval.MinSimilarity)
	}
	if err := c.Compliance.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "lexgraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".lexgraph", name+".db")
	}
}
