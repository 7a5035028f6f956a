package types

import (
	"crypto/md5"
	"fmt"
)

// Document is a single loaded documentation page.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// GetContentHash returns an MD5 hash of the title and content, used to detect page changes.
func (d *Document) GetContentHash() string {
	content := d.Title + "\n" + d.Content
	hash := md5.Sum([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// Chunk is a bounded slice of a document's text, stored in the index with its embedding.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Source     string    `json:"source,omitempty"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// ContentHash returns an MD5 hash of the chunk text. Chunks with equal text share embeddings.
func (c *Chunk) ContentHash() string {
	hash := md5.Sum([]byte(c.Text))
	return fmt.Sprintf("%x", hash)
}
