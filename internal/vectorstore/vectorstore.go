package vectorstore

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/ad/docs-qa/internal/types"
)

var (
	ErrEmptyQuery        = errors.New("query embedding is empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// VectorStore is an in-memory exact cosine-similarity index over embedded chunks.
// It is safe for concurrent searches.
type VectorStore struct {
	mu        sync.RWMutex
	chunks    []types.Chunk
	dimension int
}

type SearchResult struct {
	Chunk types.Chunk
	Score float32
}

func NewVectorStore() *VectorStore {
	return &VectorStore{}
}

// AddChunks appends embedded chunks. Every embedding must have the dimension of the first one stored.
func (vs *VectorStore) AddChunks(chunks ...types.Chunk) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	dim := vs.dimension
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("chunk %s: %w: got %d, want %d", c.ID, ErrDimensionMismatch, len(c.Embedding), dim)
		}
	}

	vs.dimension = dim
	vs.chunks = append(vs.chunks, chunks...)
	return nil
}

// Search returns up to topK chunks ordered by descending similarity. An empty store yields no results.
func (vs *VectorStore) Search(queryEmbedding []float32, topK int) ([]SearchResult, error) {
	if len(queryEmbedding) == 0 {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		return nil, nil
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if len(vs.chunks) == 0 {
		return nil, nil
	}
	if len(queryEmbedding) != vs.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(queryEmbedding), vs.dimension)
	}

	results := make([]SearchResult, 0, len(vs.chunks))
	for _, c := range vs.chunks {
		results = append(results, SearchResult{
			Chunk: c,
			Score: cosineSimilarity(queryEmbedding, c.Embedding),
		})
	}

	// Stable so equal scores keep insertion order.
	slices.SortStableFunc(results, func(a, b SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

func (vs *VectorStore) Count() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.chunks)
}

// Dimension is zero until the first chunk is added.
func (vs *VectorStore) Dimension() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.dimension
}

// Chunks returns a copy of the stored chunks in insertion order.
func (vs *VectorStore) Chunks() []types.Chunk {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return slices.Clone(vs.chunks)
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}
