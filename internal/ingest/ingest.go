package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ad/docs-qa/internal/cache"
	"github.com/ad/docs-qa/internal/chunker"
	"github.com/ad/docs-qa/internal/llm"
	"github.com/ad/docs-qa/internal/types"
	"github.com/ad/docs-qa/internal/vectorstore"
)

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// BatchSize is the number of texts per embedding request.
	BatchSize int
	// Concurrency bounds the embedding requests in flight.
	Concurrency int
}

// Stats summarises one indexing run.
type Stats struct {
	Documents int
	Chunks    int
	CacheHits int
	Embedded  int
}

// Indexer splits documents into chunks, embeds them and assembles an index.
type Indexer struct {
	embedder llm.Embedder
	cache    *cache.EmbeddingCache
	splitter *chunker.RecursiveSplitter
	opts     Options
	log      zerolog.Logger
}

// NewIndexer builds an indexer. embeddingCache may be nil.
func NewIndexer(embedder llm.Embedder, embeddingCache *cache.EmbeddingCache, opts Options, log zerolog.Logger) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Indexer{
		embedder: embedder,
		cache:    embeddingCache,
		splitter: chunker.NewRecursiveSplitter(opts.ChunkSize, opts.ChunkOverlap),
		opts:     opts,
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// Build chunks and embeds docs. Any embedding failure aborts the run so a partial index is never produced.
func (ix *Indexer) Build(ctx context.Context, docs []types.Document) (*vectorstore.VectorStore, Stats, error) {
	var stats Stats

	var chunks []types.Chunk
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			ix.log.Warn().Str("document", doc.ID).Msg("skipping document with empty content")
			continue
		}
		docChunks, err := ix.splitter.Chunk(doc)
		if err != nil {
			return nil, stats, err
		}
		stats.Documents++
		chunks = append(chunks, docChunks...)
	}
	stats.Chunks = len(chunks)
	if len(chunks) == 0 {
		return nil, stats, errors.New("no content to index")
	}
	ix.log.Info().Int("documents", stats.Documents).Int("chunks", stats.Chunks).Msg("documents split")

	model := ix.embedder.EmbeddingModel()
	var missing []int
	for i := range chunks {
		if ix.cache != nil {
			if embedding, ok := ix.cache.GetEmbedding(model, chunks[i]); ok {
				chunks[i].Embedding = embedding
				stats.CacheHits++
				continue
			}
		}
		missing = append(missing, i)
	}

	embedded, err := ix.embedMissing(ctx, chunks, missing)
	if err != nil {
		return nil, stats, err
	}
	stats.Embedded = embedded

	store := vectorstore.NewVectorStore()
	if err := store.AddChunks(chunks...); err != nil {
		return nil, stats, fmt.Errorf("build index: %w", err)
	}

	ix.log.Info().
		Int("chunks", stats.Chunks).
		Int("cache_hits", stats.CacheHits).
		Int("embedded", stats.Embedded).
		Int("dimension", store.Dimension()).
		Msg("index built")
	return store, stats, nil
}

// Manifest describes an index built by this indexer.
func (ix *Indexer) Manifest() vectorstore.Manifest {
	return vectorstore.Manifest{
		EmbeddingModel: ix.embedder.EmbeddingModel(),
		ChunkSize:      ix.opts.ChunkSize,
		ChunkOverlap:   ix.opts.ChunkOverlap,
	}
}

func (ix *Indexer) embedMissing(ctx context.Context, chunks []types.Chunk, missing []int) (int, error) {
	if len(missing) == 0 {
		return 0, nil
	}

	model := ix.embedder.EmbeddingModel()
	var done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)

	for start := 0; start < len(missing); start += ix.opts.BatchSize {
		batch := missing[start:min(start+ix.opts.BatchSize, len(missing))]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, idx := range batch {
				texts[i] = chunks[idx].Text
			}

			embeddings, err := ix.embedder.GenerateEmbeddings(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %s..%s: %w", chunks[batch[0]].ID, chunks[batch[len(batch)-1]].ID, err)
			}
			if len(embeddings) != len(batch) {
				return fmt.Errorf("provider returned %d embeddings for %d chunks", len(embeddings), len(batch))
			}

			batchChunks := make([]types.Chunk, len(batch))
			for i, idx := range batch {
				chunks[idx].Embedding = embeddings[i]
				batchChunks[i] = chunks[idx]
			}

			if ix.cache != nil {
				if err := ix.cache.SetEmbeddings(model, batchChunks, embeddings); err != nil {
					ix.log.Warn().Err(err).Msg("failed to cache embeddings")
				}
			}

			n := done.Add(int64(len(batch)))
			ix.log.Info().Int64("embedded", n).Int("total", len(missing)).Msg("embedding chunks")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(missing), nil
}
