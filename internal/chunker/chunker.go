package chunker

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/ad/docs-qa/internal/types"
)

// DefaultSeparators are tried in order: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveSplitter splits documents on the coarsest separator that keeps pieces under the
// chunk size and merges neighbours back up with the configured overlap. Sizes are measured in runes.
type RecursiveSplitter struct {
	chunkSize    int
	chunkOverlap int
	splitter     textsplitter.RecursiveCharacter
}

func NewRecursiveSplitter(chunkSize, chunkOverlap int) *RecursiveSplitter {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 4
	}
	return &RecursiveSplitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(DefaultSeparators),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}
}

// Chunk splits a document into indexed chunks.
func (s *RecursiveSplitter) Chunk(doc types.Document) ([]types.Chunk, error) {
	texts, err := s.SplitText(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", doc.ID, err)
	}
	chunks := make([]types.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, types.Chunk{
			ID:         doc.ID + ":" + strconv.Itoa(i),
			DocumentID: doc.ID,
			Source:     doc.URL,
			Index:      i,
			Text:       text,
		})
	}
	return chunks, nil
}

// SplitText returns the chunk texts for text.
func (s *RecursiveSplitter) SplitText(text string) ([]string, error) {
	texts, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := texts[:0]
	for _, t := range texts {
		if t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}
