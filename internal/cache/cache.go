package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/ad/docs-qa/internal/types"
)

const keyPrefix = "emb:"

// EmbeddingCache persists chunk embeddings between ingestion runs, keyed by embedding model
// and chunk text hash, so unchanged chunks are not re-embedded.
type EmbeddingCache struct {
	db     *badger.DB
	log    zerolog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Open opens (or creates) the cache at path. An empty path keeps the cache in memory.
func Open(path string, log zerolog.Logger) (*EmbeddingCache, error) {
	log = log.With().Str("component", "embedding_cache").Logger()

	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{log: log})
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &EmbeddingCache{db: db, log: log}, nil
}

func cacheKey(model string, chunk types.Chunk) []byte {
	return []byte(keyPrefix + model + ":" + chunk.ContentHash())
}

// GetEmbedding returns the cached embedding of chunk for model.
func (ec *EmbeddingCache) GetEmbedding(model string, chunk types.Chunk) ([]float32, bool) {
	var embedding []float32
	err := ec.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(model, chunk))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			embedding, err = decodeEmbedding(val)
			return err
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			ec.log.Warn().Err(err).Str("chunk", chunk.ID).Msg("cache read failed")
		}
		ec.misses.Add(1)
		return nil, false
	}

	ec.hits.Add(1)
	return embedding, true
}

// SetEmbedding stores one embedding.
func (ec *EmbeddingCache) SetEmbedding(model string, chunk types.Chunk, embedding []float32) error {
	return ec.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(model, chunk), encodeEmbedding(embedding))
	})
}

// SetEmbeddings stores a batch of embeddings; chunks and embeddings are matched by position.
func (ec *EmbeddingCache) SetEmbeddings(model string, chunks []types.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("got %d embeddings for %d chunks", len(embeddings), len(chunks))
	}

	wb := ec.db.NewWriteBatch()
	defer wb.Cancel()
	for i, chunk := range chunks {
		if err := wb.Set(cacheKey(model, chunk), encodeEmbedding(embeddings[i])); err != nil {
			return fmt.Errorf("cache embedding %s: %w", chunk.ID, err)
		}
	}
	return wb.Flush()
}

// Stats reports the number of stored embeddings and the hit/miss counts of this session.
func (ec *EmbeddingCache) Stats() (Stats, error) {
	stats := Stats{Hits: ec.hits.Load(), Misses: ec.misses.Load()}
	err := ec.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stats.Entries++
		}
		return nil
	})
	return stats, err
}

func (ec *EmbeddingCache) Close() error {
	return ec.db.Close()
}

func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid cached embedding of %d bytes", len(buf))
	}
	embedding := make([]float32, len(buf)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding, nil
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.log.Error().Msgf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.log.Warn().Msgf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.log.Debug().Msgf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.log.Trace().Msgf(format, args...) }
