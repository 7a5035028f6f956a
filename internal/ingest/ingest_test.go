package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad/docs-qa/internal/cache"
	"github.com/ad/docs-qa/internal/types"
)

type countingEmbedder struct {
	err error

	mu     sync.Mutex
	calls  int
	inputs int
}

func (e *countingEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.inputs += len(texts)
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) EmbeddingModel() string { return "test-embedding" }

func sampleDocs() []types.Document {
	return []types.Document{
		{ID: "tracing", URL: "https://docs.example/tracing", Content: strings.Repeat("Tracing records runs. ", 20)},
		{ID: "evaluation", URL: "https://docs.example/evaluation", Content: "Evaluation scores outputs.\n\nDatasets hold examples."},
		{ID: "blank", Content: "   "},
	}
}

func testOptions() Options {
	return Options{ChunkSize: 100, ChunkOverlap: 20, BatchSize: 2, Concurrency: 3}
}

func TestBuildEmbedsEveryChunk(t *testing.T) {
	embedder := &countingEmbedder{}
	ix := NewIndexer(embedder, nil, testOptions(), zerolog.Nop())

	store, stats, err := ix.Build(context.Background(), sampleDocs())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Documents)
	assert.Greater(t, stats.Chunks, 2)
	assert.Equal(t, stats.Chunks, stats.Embedded)
	assert.Zero(t, stats.CacheHits)
	assert.Equal(t, stats.Chunks, store.Count())
	assert.Equal(t, 2, store.Dimension())
	assert.Equal(t, stats.Chunks, embedder.inputs)
	assert.Equal(t, (stats.Chunks+1)/2, embedder.calls)

	chunks := store.Chunks()
	assert.Equal(t, "tracing:0", chunks[0].ID)
	for _, c := range chunks {
		assert.Equal(t, float32(len(c.Text)), c.Embedding[0], "embedding must belong to its own chunk")
	}
}

func TestBuildReusesCachedEmbeddings(t *testing.T) {
	ec, err := cache.Open("", zerolog.Nop())
	require.NoError(t, err)
	defer ec.Close()

	first := &countingEmbedder{}
	_, stats, err := NewIndexer(first, ec, testOptions(), zerolog.Nop()).Build(context.Background(), sampleDocs())
	require.NoError(t, err)

	second := &countingEmbedder{}
	store, again, err := NewIndexer(second, ec, testOptions(), zerolog.Nop()).Build(context.Background(), sampleDocs())
	require.NoError(t, err)

	assert.Zero(t, second.calls)
	assert.Equal(t, stats.Chunks, again.CacheHits)
	assert.Zero(t, again.Embedded)
	assert.Equal(t, stats.Chunks, store.Count())
}

func TestBuildFailsOnEmbeddingError(t *testing.T) {
	embedder := &countingEmbedder{err: errors.New("gateway unavailable")}
	_, _, err := NewIndexer(embedder, nil, testOptions(), zerolog.Nop()).Build(context.Background(), sampleDocs())
	assert.ErrorContains(t, err, "gateway unavailable")
}

func TestBuildRejectsEmptyCorpus(t *testing.T) {
	embedder := &countingEmbedder{}
	_, _, err := NewIndexer(embedder, nil, testOptions(), zerolog.Nop()).Build(context.Background(), []types.Document{{ID: "x"}})
	assert.Error(t, err)
	assert.Zero(t, embedder.calls)
}

func TestManifestCarriesChunking(t *testing.T) {
	m := NewIndexer(&countingEmbedder{}, nil, testOptions(), zerolog.Nop()).Manifest()
	assert.Equal(t, "test-embedding", m.EmbeddingModel)
	assert.Equal(t, 100, m.ChunkSize)
	assert.Equal(t, 20, m.ChunkOverlap)
}
