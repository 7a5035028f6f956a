package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ad/docs-qa/internal/llm"
	"github.com/ad/docs-qa/internal/pipeline"
	"github.com/ad/docs-qa/internal/vectorstore"
)

// Searcher is the read side of the document index.
type Searcher interface {
	Search(queryEmbedding []float32, topK int) ([]vectorstore.SearchResult, error)
}

// VectorRetrieval embeds a question and looks up its nearest chunks.
type VectorRetrieval struct {
	index    Searcher
	embedder llm.Embedder
	topK     int
	log      zerolog.Logger
}

func NewVectorRetrieval(index Searcher, embedder llm.Embedder, topK int, log zerolog.Logger) *VectorRetrieval {
	return &VectorRetrieval{
		index:    index,
		embedder: embedder,
		topK:     topK,
		log:      log.With().Str("component", "retrieval").Logger(),
	}
}

// FindRelevantChunks returns up to limit chunks nearest to query, nearest first.
func (vr *VectorRetrieval) FindRelevantChunks(ctx context.Context, query string, limit int) ([]vectorstore.SearchResult, error) {
	queryEmbedding, err := llm.GenerateEmbedding(ctx, vr.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := vr.index.Search(queryEmbedding, limit)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return results, nil
}

// Retrieve joins the text of the top-k chunks with blank lines. No matches yield "".
func (vr *VectorRetrieval) Retrieve(ctx context.Context, question string) (string, error) {
	results, err := vr.FindRelevantChunks(ctx, question, vr.topK)
	if err != nil {
		return "", &pipeline.RetrievalError{Err: err}
	}

	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Chunk.Text)
	}

	vr.log.Debug().Int("chunks", len(texts)).Msg("documents retrieved")
	return strings.Join(texts, "\n\n"), nil
}
