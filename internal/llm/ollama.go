package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ad/docs-qa/internal/config"
)

// OllamaClient serves embeddings and completions from a local Ollama server.
// Missing models are pulled once on first use.
type OllamaClient struct {
	client         *api.Client
	embeddingModel string
	timeout        time.Duration
	maxRetries     int
	log            zerolog.Logger

	sf         singleflight.Group
	modelCache map[string]bool
	cacheMutex sync.RWMutex
}

func NewOllamaClient(cfg config.ProviderConfig, log zerolog.Logger) (*OllamaClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}

	return &OllamaClient{
		// model pulls can outlast the per-call timeout, so the transport has none
		client:         api.NewClient(u, &http.Client{}),
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		log:            log.With().Str("provider", config.ProviderOllama).Logger(),
		modelCache:     make(map[string]bool),
	}, nil
}

func (c *OllamaClient) Name() string { return config.ProviderOllama }

func (c *OllamaClient) EmbeddingModel() string { return c.embeddingModel }

func (c *OllamaClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("input %d is empty", i)
		}
	}
	if err := c.ensureModelAvailable(ctx, c.embeddingModel); err != nil {
		return nil, fmt.Errorf("model not available: %w", err)
	}

	resp, err := call(ctx, c.timeout, c.maxRetries, isTransientOllama, func(ctx context.Context) (*api.EmbedResponse, error) {
		return c.client.Embed(ctx, &api.EmbedRequest{
			Model: c.embeddingModel,
			Input: texts,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	for i, v := range resp.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("embed: empty vector for input %d", i)
		}
	}
	return resp.Embeddings, nil
}

func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := c.ensureModelAvailable(ctx, req.Model); err != nil {
		return "", fmt.Errorf("model not available: %w", err)
	}

	messages := make([]api.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	return call(ctx, c.timeout, c.maxRetries, isTransientOllama, func(ctx context.Context) (string, error) {
		stream := false
		var answer strings.Builder
		err := c.client.Chat(ctx, &api.ChatRequest{
			Model:    req.Model,
			Messages: messages,
			Stream:   &stream,
			Options:  map[string]any{"temperature": req.Temperature},
		}, func(resp api.ChatResponse) error {
			answer.WriteString(resp.Message.Content)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("chat: %w", err)
		}
		return answer.String(), nil
	})
}

func (c *OllamaClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Heartbeat(ctx)
}

func (c *OllamaClient) isModelCached(model string) bool {
	c.cacheMutex.RLock()
	defer c.cacheMutex.RUnlock()
	return c.modelCache[model]
}

func (c *OllamaClient) cacheModel(model string) {
	c.cacheMutex.Lock()
	defer c.cacheMutex.Unlock()
	c.modelCache[model] = true
}

func (c *OllamaClient) checkModelAvailability(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	list, err := c.client.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to get models list: %w", err)
	}
	for _, m := range list.Models {
		if m.Name == model || strings.HasPrefix(m.Name, model+":") {
			c.cacheModel(model)
			return nil
		}
	}
	return fmt.Errorf("model %s not found in available models", model)
}

func (c *OllamaClient) pullModel(ctx context.Context, model string) error {
	c.log.Info().Str("model", model).Msg("pulling model")

	var lastStatus string
	var lastProgress float64
	err := c.client.Pull(ctx, &api.PullRequest{Model: model}, func(p api.ProgressResponse) error {
		if p.Total > 0 && p.Completed > 0 {
			percentage := float64(p.Completed) / float64(p.Total) * 100
			if percentage-lastProgress >= 10.0 {
				c.log.Info().Str("model", model).Msgf("pull %.0f%%", percentage)
				lastProgress = percentage
			}
		} else if p.Status != lastStatus && p.Status != "" {
			c.log.Debug().Str("model", model).Str("status", p.Status).Msg("pull status")
			lastStatus = p.Status
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to pull model %s: %w", model, err)
	}

	c.log.Info().Str("model", model).Msg("model pulled")
	return nil
}

// ensureModelAvailable pulls the model if needed; concurrent callers share one pull, which
// outlives any single caller's cancellation.
func (c *OllamaClient) ensureModelAvailable(ctx context.Context, model string) error {
	if c.isModelCached(model) {
		return nil
	}

	pullCtx := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(model, func() (any, error) {
		if err := c.checkModelAvailability(pullCtx, model); err == nil {
			return nil, nil
		}
		if err := c.pullModel(pullCtx, model); err != nil {
			return nil, err
		}
		if err := c.checkModelAvailability(pullCtx, model); err != nil {
			return nil, fmt.Errorf("model %s still not available after download: %w", model, err)
		}
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func isTransientOllama(err error) bool {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return isTransientStatus(statusErr.StatusCode)
	}
	return isTransportError(err)
}
