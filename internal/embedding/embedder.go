package embedding

import (
	"context"
	"fmt"

	"docchat/internal/logger"
)

// Embedder converts free text into fixed-dimension vectors. EmbedDocuments
// is a single batch call; callers must not split a batch expecting
// identical vectors.
type Embedder interface {
	Name() string
	Dimension() int
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Kind tags which variant of the embedder chain is active.
type Kind string

const (
	KindLocal       Kind = "local"
	KindRemote      Kind = "remote"
	KindUnavailable Kind = "unavailable"
)

// Provider lazily opens one embedder variant.
type Provider struct {
	Kind Kind
	Open func(ctx context.Context) (Embedder, error)
}

// Selection is the outcome of trying a provider chain.
type Selection struct {
	Kind     Kind
	Embedder Embedder
	// Failures holds one entry per provider that could not be opened.
	Failures []error
}

// Available reports whether an embedder was selected.
func (s Selection) Available() bool { return s.Embedder != nil }

// Select opens providers in order and returns the first that loads.
func Select(ctx context.Context, log *logger.Logger, providers ...Provider) Selection {
	var failures []error
	for _, p := range providers {
		if p.Open == nil {
			continue
		}
		emb, err := p.Open(ctx)
		if err != nil {
			log.Warn("embedder unavailable, trying next", "kind", p.Kind, "error", err)
			failures = append(failures, fmt.Errorf("%s embedder: %w", p.Kind, err))
			continue
		}
		log.Info("embedder selected", "kind", p.Kind, "name", emb.Name(), "dimension", emb.Dimension())
		return Selection{Kind: p.Kind, Embedder: emb, Failures: failures}
	}
	log.Warn("no embedding service available, index runs without embeddings")
	return Selection{Kind: KindUnavailable, Failures: failures}
}
