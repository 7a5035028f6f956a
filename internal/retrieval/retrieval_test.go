package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad/docs-qa/internal/llm"
	"github.com/ad/docs-qa/internal/pipeline"
	"github.com/ad/docs-qa/internal/types"
	"github.com/ad/docs-qa/internal/vectorstore"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			return nil, fmt.Errorf("unexpected text %q", t)
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbeddingModel() string { return "fake" }

func newIndex(t *testing.T, chunks ...types.Chunk) *vectorstore.VectorStore {
	t.Helper()
	vs := vectorstore.NewVectorStore()
	if len(chunks) > 0 {
		require.NoError(t, vs.AddChunks(chunks...))
	}
	return vs
}

func tracingIndex(t *testing.T) *vectorstore.VectorStore {
	return newIndex(t,
		types.Chunk{ID: "1", Text: "Use callbacks to trace.", Embedding: []float32{0.8, 0.6}},
		types.Chunk{ID: "2", Text: "Datasets hold examples.", Embedding: []float32{0, 1}},
		types.Chunk{ID: "3", Text: "Tracing lets you log runs.", Embedding: []float32{1, 0}},
	)
}

func TestRetrieveJoinsNearestFirst(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{"How does LangSmith tracing work?": {1, 0.1}}}
	r := NewVectorRetrieval(tracingIndex(t), embedder, 2, zerolog.Nop())

	documents, err := r.Retrieve(context.Background(), "How does LangSmith tracing work?")
	require.NoError(t, err)
	assert.Equal(t, "Tracing lets you log runs.\n\nUse callbacks to trace.", documents)
}

func TestRetrieveReturnsMinOfKAndIndexSize(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{"q": {0, 1}}}
	r := NewVectorRetrieval(tracingIndex(t), embedder, 10, zerolog.Nop())

	results, err := r.FindRelevantChunks(context.Background(), "q", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Datasets hold examples.", results[0].Chunk.Text)
}

func TestRetrieveEmptyIndexYieldsEmptyText(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	r := NewVectorRetrieval(newIndex(t), embedder, 3, zerolog.Nop())

	documents, err := r.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "", documents)
}

func TestRetrieveEmbeddingTimeout(t *testing.T) {
	embedder := &fakeEmbedder{err: fmt.Errorf("request: %w", context.DeadlineExceeded)}
	r := NewVectorRetrieval(tracingIndex(t), embedder, 3, zerolog.Nop())

	_, err := r.Retrieve(context.Background(), "q")
	var re *pipeline.RetrievalError
	require.ErrorAs(t, err, &re)
	assert.True(t, llm.IsTimeout(err))
}

func TestRetrieveDimensionMismatch(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := NewVectorRetrieval(tracingIndex(t), embedder, 3, zerolog.Nop())

	_, err := r.Retrieve(context.Background(), "q")
	var re *pipeline.RetrievalError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestRetrieverInsidePipeline(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{"How does LangSmith tracing work?": {1, 0.1}}}
	completer := completerFunc(func(_ context.Context, req llm.CompletionRequest) (string, error) {
		return "Tracing logs your LLM calls via callbacks.", nil
	})
	p := pipeline.New(NewVectorRetrieval(tracingIndex(t), embedder, 2, zerolog.Nop()), completer, pipeline.Options{}, zerolog.Nop())

	state, err := p.Run(context.Background(), "How does LangSmith tracing work?")
	require.NoError(t, err)
	assert.Equal(t, "Tracing lets you log runs.\n\nUse callbacks to trace.", state.Documents)
	assert.Equal(t, "Tracing logs your LLM calls via callbacks.", state.Answer)
}

func TestEmbeddingFailureInsidePipeline(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("connection refused")}
	called := false
	completer := completerFunc(func(context.Context, llm.CompletionRequest) (string, error) {
		called = true
		return "", nil
	})
	p := pipeline.New(NewVectorRetrieval(tracingIndex(t), embedder, 3, zerolog.Nop()), completer, pipeline.Options{}, zerolog.Nop())

	state, err := p.Run(context.Background(), "q")
	var re *pipeline.RetrievalError
	require.ErrorAs(t, err, &re)
	assert.False(t, state.HasDocuments())
	assert.False(t, called)
}

type completerFunc func(ctx context.Context, req llm.CompletionRequest) (string, error)

func (f completerFunc) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	return f(ctx, req)
}
