package embedding

import (
	"context"
	"errors"
	"testing"

	"docchat/internal/logger"
)

type stubEmbedder struct{ name string }

func (s stubEmbedder) Name() string   { return s.name }
func (s stubEmbedder) Dimension() int { return 2 }
func (s stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}
func (s stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 2), nil
}

func failing(ctx context.Context) (Embedder, error) { return nil, errors.New("weights missing") }

func TestSelectPrefersFirstWorkingProvider(t *testing.T) {
	sel := Select(context.Background(), logger.Nop(),
		Provider{Kind: KindLocal, Open: failing},
		Provider{Kind: KindRemote, Open: func(ctx context.Context) (Embedder, error) { return stubEmbedder{"remote"}, nil }},
	)
	if sel.Kind != KindRemote || !sel.Available() {
		t.Fatalf("kind: want=%s got=%s", KindRemote, sel.Kind)
	}
	if len(sel.Failures) != 1 {
		t.Fatalf("failures: want=1 got=%d", len(sel.Failures))
	}
}

func TestSelectLocalFirst(t *testing.T) {
	sel := Select(context.Background(), logger.Nop(),
		Provider{Kind: KindLocal, Open: func(ctx context.Context) (Embedder, error) { return stubEmbedder{"local"}, nil }},
		Provider{Kind: KindRemote, Open: func(ctx context.Context) (Embedder, error) { return stubEmbedder{"remote"}, nil }},
	)
	if sel.Kind != KindLocal || sel.Embedder.Name() != "local" {
		t.Fatalf("want local embedder, got kind=%s", sel.Kind)
	}
}

func TestSelectUnavailable(t *testing.T) {
	sel := Select(context.Background(), logger.Nop(),
		Provider{Kind: KindLocal, Open: failing},
		Provider{Kind: KindRemote, Open: failing},
	)
	if sel.Kind != KindUnavailable || sel.Available() {
		t.Fatalf("want unavailable, got kind=%s", sel.Kind)
	}
	if len(sel.Failures) != 2 {
		t.Fatalf("failures: want=2 got=%d", len(sel.Failures))
	}
}
