package vectorstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad/docs-qa/internal/types"
)

func chunk(id, text string, vec ...float32) types.Chunk {
	return types.Chunk{ID: id, DocumentID: "doc", Text: text, Embedding: vec}
}

func sampleStore(t *testing.T) *VectorStore {
	t.Helper()
	vs := NewVectorStore()
	require.NoError(t, vs.AddChunks(
		chunk("a", "tracing", 1, 0),
		chunk("b", "evaluation", 0, 1),
		chunk("c", "tracing and evaluation", 0.7, 0.7),
	))
	return vs
}

func TestSearchOrdersByDescendingSimilarity(t *testing.T) {
	vs := sampleStore(t)

	results, err := vs.Search([]float32{1, 0.1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Chunk.ID)
	assert.Equal(t, "c", results[1].Chunk.ID)
	assert.Equal(t, "b", results[2].Chunk.ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchReturnsAtMostK(t *testing.T) {
	vs := sampleStore(t)

	results, err := vs.Search([]float32{0, 1}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = vs.Search([]float32{0, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchKeepsLowScores(t *testing.T) {
	vs := NewVectorStore()
	require.NoError(t, vs.AddChunks(chunk("neg", "opposite", -1, 0)))

	results, err := vs.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, -1, results[0].Score, 1e-6)
}

func TestSearchEmptyStore(t *testing.T) {
	results, err := NewVectorStore().Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRejectsBadQuery(t *testing.T) {
	vs := sampleStore(t)

	_, err := vs.Search(nil, 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = vs.Search([]float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestAddChunksValidatesEmbeddings(t *testing.T) {
	vs := sampleStore(t)

	assert.Error(t, vs.AddChunks(chunk("none", "no vector")))
	assert.ErrorIs(t, vs.AddChunks(chunk("wide", "too wide", 1, 2, 3)), ErrDimensionMismatch)
	assert.Equal(t, 3, vs.Count())
	assert.Equal(t, 2, vs.Dimension())
}

func TestConcurrentSearch(t *testing.T) {
	vs := sampleStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := vs.Search([]float32{1, 0}, 1)
			assert.NoError(t, err)
			assert.Equal(t, "a", results[0].Chunk.ID)
		}()
	}
	wg.Wait()
}

func TestSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	vs := sampleStore(t)

	require.NoError(t, vs.Save(dir, Manifest{EmbeddingModel: "text-embedding-3-small", ChunkSize: 512, ChunkOverlap: 100}))

	loaded, manifest, err := Load(dir, "text-embedding-3-small")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Count())
	assert.Equal(t, 2, loaded.Dimension())
	assert.Equal(t, 3, manifest.ChunkCount)
	assert.Equal(t, 512, manifest.ChunkSize)
	assert.Equal(t, 100, manifest.ChunkOverlap)
	assert.False(t, manifest.CreatedAt.IsZero())
	assert.Equal(t, vs.Chunks(), loaded.Chunks())

	_, err = os.Stat(filepath.Join(dir, manifestFile+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestSaveRefusesEmptyIndex(t *testing.T) {
	assert.Error(t, NewVectorStore().Save(t.TempDir(), Manifest{}))
}

func TestLoadMissingIndex(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent"), "")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestLoadRejectsOtherEmbeddingModel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, sampleStore(t).Save(dir, Manifest{EmbeddingModel: "text-embedding-3-small"}))

	_, _, err := Load(dir, "mxbai-embed-large")
	assert.ErrorIs(t, err, ErrIndexMismatch)

	_, _, err = Load(dir, "")
	assert.NoError(t, err)
}

func TestLoadDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, sampleStore(t).Save(dir, Manifest{EmbeddingModel: "m"}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, chunksFile), []byte(`[{"id":"a","embedding":[1,0]}]`), 0o644))
	_, _, err := Load(dir, "m")
	assert.ErrorIs(t, err, ErrIndexCorrupt)

	require.NoError(t, os.WriteFile(filepath.Join(dir, chunksFile), []byte(`not json`), 0o644))
	_, _, err = Load(dir, "m")
	assert.ErrorIs(t, err, ErrIndexCorrupt)

	require.NoError(t, os.Remove(filepath.Join(dir, chunksFile)))
	_, _, err = Load(dir, "m")
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}
