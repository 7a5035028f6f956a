package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ad/docs-qa/internal/types"
)

const (
	manifestFile  = "manifest.json"
	chunksFile    = "chunks.json"
	formatVersion = "1"
)

var (
	ErrIndexNotFound = errors.New("index not found")
	ErrIndexCorrupt  = errors.New("index is corrupt")
	ErrIndexMismatch = errors.New("index does not match the configured embedding model")
)

// Manifest describes how a persisted index was built.
type Manifest struct {
	Version        string    `json:"version"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	ChunkCount     int       `json:"chunk_count"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	CreatedAt      time.Time `json:"created_at"`
}

// Save writes the chunks and a manifest into dir. Each file is written to a temp file and
// renamed into place; the manifest goes last so a partial save is never loadable.
func (vs *VectorStore) Save(dir string, manifest Manifest) error {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if len(vs.chunks) == 0 {
		return errors.New("refusing to save an empty index")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	manifest.Version = formatVersion
	manifest.Dimension = vs.dimension
	manifest.ChunkCount = len(vs.chunks)
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}

	// The old manifest must not survive over new chunks.
	if err := os.Remove(filepath.Join(dir, manifestFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove old manifest: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, chunksFile), vs.chunks, false); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(dir, manifestFile), manifest, true)
}

// Load reads an index saved by Save. A non-empty embeddingModel must match the manifest.
func Load(dir, embeddingModel string) (*VectorStore, Manifest, error) {
	var manifest Manifest

	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, manifest, fmt.Errorf("%w at %s", ErrIndexNotFound, dir)
	}
	if err != nil {
		return nil, manifest, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, manifest, fmt.Errorf("%w: manifest: %v", ErrIndexCorrupt, err)
	}
	if manifest.Version != formatVersion {
		return nil, manifest, fmt.Errorf("%w: unsupported format version %q", ErrIndexCorrupt, manifest.Version)
	}
	if embeddingModel != "" && manifest.EmbeddingModel != embeddingModel {
		return nil, manifest, fmt.Errorf("%w: index has %q, configured %q", ErrIndexMismatch, manifest.EmbeddingModel, embeddingModel)
	}

	data, err = os.ReadFile(filepath.Join(dir, chunksFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, manifest, fmt.Errorf("%w: chunks file missing", ErrIndexCorrupt)
	}
	if err != nil {
		return nil, manifest, fmt.Errorf("read chunks: %w", err)
	}

	var chunks []types.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, manifest, fmt.Errorf("%w: chunks: %v", ErrIndexCorrupt, err)
	}
	if len(chunks) != manifest.ChunkCount {
		return nil, manifest, fmt.Errorf("%w: manifest lists %d chunks, found %d", ErrIndexCorrupt, manifest.ChunkCount, len(chunks))
	}

	vs := NewVectorStore()
	if err := vs.AddChunks(chunks...); err != nil {
		return nil, manifest, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if vs.Dimension() != manifest.Dimension {
		return nil, manifest, fmt.Errorf("%w: manifest dimension %d, chunks have %d", ErrIndexCorrupt, manifest.Dimension, vs.Dimension())
	}

	return vs, manifest, nil
}

func writeJSONAtomic(path string, v any, indent bool) error {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}
