package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ad/docs-qa/internal/config"
	"github.com/ad/docs-qa/internal/llm"
	"github.com/ad/docs-qa/internal/logger"
	"github.com/ad/docs-qa/internal/pipeline"
	"github.com/ad/docs-qa/internal/retrieval"
	"github.com/ad/docs-qa/internal/vectorstore"
)

// Runtime is everything a query-time entry point needs.
type Runtime struct {
	Config    *config.AppConfig
	Log       zerolog.Logger
	Provider  llm.Provider
	Index     *vectorstore.VectorStore
	Manifest  vectorstore.Manifest
	Retrieval *retrieval.VectorRetrieval
	Pipeline  *pipeline.Pipeline
}

// Bootstrap loads configuration, the provider and the persisted index, and wires the pipeline.
// A missing credential or an unusable index is returned as an error and must stop the process.
func Bootstrap(ctx context.Context, configPath string, observer pipeline.Observer) (*Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log)

	if err := cfg.RequireCredential(); err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(cfg.Provider, log)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	return Wire(ctx, cfg, provider, observer, log)
}

// Wire builds the runtime around an existing provider.
func Wire(ctx context.Context, cfg *config.AppConfig, provider llm.Provider, observer pipeline.Observer, log zerolog.Logger) (*Runtime, error) {
	index, manifest, err := LoadIndex(cfg.Index.Path, provider.EmbeddingModel())
	if err != nil {
		return nil, err
	}
	if err := CheckDimension(ctx, provider, manifest); err != nil {
		if errors.Is(err, vectorstore.ErrIndexMismatch) {
			return nil, &pipeline.IndexUnavailableError{Path: cfg.Index.Path, Err: err}
		}
		log.Warn().Err(err).Msg("could not verify embedding dimension, provider unreachable")
	}
	log.Info().
		Str("path", cfg.Index.Path).
		Int("chunks", manifest.ChunkCount).
		Int("dimension", manifest.Dimension).
		Str("embedding_model", manifest.EmbeddingModel).
		Time("built", manifest.CreatedAt).
		Msg("index loaded")

	vr := retrieval.NewVectorRetrieval(index, provider, cfg.Retrieval.TopK, log)
	p := pipeline.New(vr, provider, pipeline.Options{
		Model:       cfg.Provider.ChatModel,
		Temperature: cfg.Provider.Temperature,
		Observer:    observer,
	}, log)

	return &Runtime{
		Config:    cfg,
		Log:       log,
		Provider:  provider,
		Index:     index,
		Manifest:  manifest,
		Retrieval: vr,
		Pipeline:  p,
	}, nil
}

// LoadIndex reads the persisted index, reporting any failure as *pipeline.IndexUnavailableError.
func LoadIndex(path, embeddingModel string) (*vectorstore.VectorStore, vectorstore.Manifest, error) {
	index, manifest, err := vectorstore.Load(path, embeddingModel)
	if err != nil {
		return nil, manifest, &pipeline.IndexUnavailableError{Path: path, Err: err}
	}
	return index, manifest, nil
}

// CheckDimension embeds a sample text and compares its length with the index dimension.
// A mismatch wraps vectorstore.ErrIndexMismatch.
func CheckDimension(ctx context.Context, embedder llm.Embedder, manifest vectorstore.Manifest) error {
	vector, err := llm.GenerateEmbedding(ctx, embedder, "dimension check")
	if err != nil {
		return fmt.Errorf("embed sample: %w", err)
	}
	if len(vector) != manifest.Dimension {
		return fmt.Errorf("%w: index dimension %d, provider returns %d",
			vectorstore.ErrIndexMismatch, manifest.Dimension, len(vector))
	}
	return nil
}
