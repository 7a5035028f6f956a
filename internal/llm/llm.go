package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ad/docs-qa/internal/config"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a chat completion call.
type CompletionRequest struct {
	Model       string
	Temperature float32
	Messages    []Message
}

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModel() string
}

// Completer produces generated text from a list of messages.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Provider is the remote embedding + completion capability.
type Provider interface {
	Embedder
	Completer
	Name() string
	Ping(ctx context.Context) error
}

// GenerateEmbedding embeds a single text.
func GenerateEmbedding(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("provider returned %d embeddings for 1 input", len(vectors))
	}
	return vectors[0], nil
}

// NewProvider builds the provider selected by cfg.Type.
func NewProvider(cfg config.ProviderConfig, log zerolog.Logger) (Provider, error) {
	switch cfg.Type {
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case config.ProviderOllama:
		return NewOllamaClient(cfg, log)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
