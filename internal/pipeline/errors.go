package pipeline

import (
	"errors"
	"fmt"
)

// ErrEmptyQuestion rejects blank input before any stage runs.
var ErrEmptyQuestion = errors.New("question must not be empty")

// RetrievalError is returned when embedding the question or searching the index fails.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError is returned when the completion call fails.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IndexUnavailableError means the persisted index could not be loaded. It is fatal at startup.
type IndexUnavailableError struct {
	Path string
	Err  error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("index at %s unavailable: %v", e.Path, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }
