package domain

import "errors"

var (
	// ErrEmbeddingUnavailable is returned by index mutations when no embedder
	// could be loaded.
	ErrEmbeddingUnavailable = errors.New("no embedding service available")
	// ErrGenerationUnavailable means no generation backend is configured.
	ErrGenerationUnavailable = errors.New("generation backend not configured")
	// ErrGenerationFailure is reported to chat callers in place of the
	// backend's own error.
	ErrGenerationFailure = errors.New("generation backend request failed")
	// ErrIndexCorruption marks persisted index artifacts that cannot be used.
	ErrIndexCorruption = errors.New("index artifacts missing or inconsistent")
	// ErrExtractionEmpty is returned when a document has no text to index.
	ErrExtractionEmpty = errors.New("no text content found in the document")
	// ErrDimensionMismatch is fatal: the persisted index was built with a
	// different embedding dimension than the active embedder.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
