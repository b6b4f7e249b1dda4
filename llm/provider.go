package llm

import (
	"context"
	"fmt"
)

// Provider is the interface for the external completion and embedding
// services.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider endpoint.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openai, openrouter, dashscope, groq, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`

	// TimeoutSeconds bounds a single HTTP attempt. Zero means 120s.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`

	// Retry controls how failed requests are retried.
	Retry RetryPolicy `json:"retry" yaml:"retry"`

	// RequestsPerSecond caps outgoing requests. Zero disables limiting.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// defaultBaseURLs holds the endpoint used when Config.BaseURL is empty.
// Every entry speaks the OpenAI-compatible API under /v1 unless a prefix
// override is listed in pathPrefixes.
var defaultBaseURLs = map[string]string{
	"ollama":     "http://localhost:11434",
	"lmstudio":   "http://localhost:1234",
	"openai":     "https://api.openai.com",
	"openrouter": "https://openrouter.ai/api",
	"dashscope":  "https://dashscope.aliyuncs.com/compatible-mode",
	"groq":       "https://api.groq.com/openai",
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "lmstudio", "openai", "openrouter", "dashscope", "groq":
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultBaseURLs[cfg.Provider]
		}
		return NewOpenAICompat(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
