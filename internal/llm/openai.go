package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ad/docs-qa/internal/config"
)

// OpenAIClient talks to an OpenAI-compatible gateway. Every request carries the
// configured credential header in addition to the bearer token.
type OpenAIClient struct {
	client         *openai.Client
	embeddingModel string
	timeout        time.Duration
	maxRetries     int
}

// headerTransport injects a fixed header into every outbound request.
type headerTransport struct {
	header string
	value  string
	base   http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set(t.header, t.value)
	return t.base.RoundTrip(clone)
}

// NewOpenAIClient creates a gateway client. A missing credential is an error.
func NewOpenAIClient(cfg config.ProviderConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai provider: missing API key")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("openai provider: missing base URL")
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerTransport{
			header: cfg.APIKeyHeader,
			value:  cfg.APIKey,
			base:   http.DefaultTransport,
		},
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientCfg.HTTPClient = httpClient

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
	}, nil
}

func (c *OpenAIClient) Name() string { return config.ProviderOpenAI }

func (c *OpenAIClient) EmbeddingModel() string { return c.embeddingModel }

func (c *OpenAIClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("input %d is empty", i)
		}
	}

	resp, err := call(ctx, c.timeout, c.maxRetries, isTransientOpenAI, func(ctx context.Context) (openai.EmbeddingResponse, error) {
		return c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("create embeddings: empty vector for input %d", i)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := call(ctx, c.timeout, c.maxRetries, isTransientOpenAI, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			Messages:    messages,
			Temperature: req.Temperature,
		})
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("create chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping checks that the gateway answers an authenticated request.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func isTransientOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return isTransientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return isTransientStatus(reqErr.HTTPStatusCode)
	}
	return isTransportError(err)
}
