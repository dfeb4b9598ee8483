package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"docchat/internal/domain"
	"docchat/internal/embedding"
	"docchat/internal/logger"
	"docchat/internal/vectorindex/persist"
)

var axes = []string{"cat", "dog", "bird", "plane", "car"}

// keywordEmbedder counts axis keywords, which makes distances easy to
// reason about in tests.
type keywordEmbedder struct {
	docCalls   atomic.Int32
	queryCalls atomic.Int32
	fail       bool
}

func (e *keywordEmbedder) Name() string   { return "keyword" }
func (e *keywordEmbedder) Dimension() int { return len(axes) }

func (e *keywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.docCalls.Add(1)
	if e.fail {
		return nil, errors.New("backend down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.queryCalls.Add(1)
	if e.fail {
		return nil, errors.New("backend down")
	}
	return keywordVector(text), nil
}

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(axes))
	for i, a := range axes {
		v[i] = float32(strings.Count(lower, a))
	}
	return v
}

func selection(e embedding.Embedder) embedding.Selection {
	return embedding.Selection{Kind: embedding.KindLocal, Embedder: e}
}

func openMemory(t *testing.T, e embedding.Embedder) *Index {
	t.Helper()
	idx, err := Open(selection(e), Options{Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return idx
}

func assertAligned(t *testing.T, idx *Index) {
	t.Helper()
	chunks := idx.Chunks()
	if got := idx.Stats().IndexSize; got != len(chunks) {
		t.Fatalf("index size: want=%d got=%d", len(chunks), got)
	}
	for i, ch := range chunks {
		if ch.VectorID != i {
			t.Fatalf("chunk %d: vector_id want=%d got=%d", i, i, ch.VectorID)
		}
	}
}

func TestAddAssignsSequentialVectorIDs(t *testing.T) {
	e := &keywordEmbedder{}
	idx := openMemory(t, e)
	ctx := context.Background()

	if err := idx.Add(ctx, []string{"a cat", "a dog"}, "d1", "pets.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(ctx, []string{"a bird"}, "d2", "birds.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := e.docCalls.Load(); got != 2 {
		t.Fatalf("embed calls: want=2 (one per Add) got=%d", got)
	}
	assertAligned(t, idx)

	chunks := idx.Chunks()
	if chunks[2].DocumentID != "d2" || chunks[2].ChunkIndex != 0 || chunks[1].ChunkIndex != 1 {
		t.Fatalf("unexpected chunk metadata: %+v", chunks)
	}
}

func TestAddRejectsEmptyList(t *testing.T) {
	idx := openMemory(t, &keywordEmbedder{})
	if err := idx.Add(context.Background(), nil, "d1", "x.txt"); !errors.Is(err, domain.ErrExtractionEmpty) {
		t.Fatalf("want ErrExtractionEmpty, got=%v", err)
	}
}

func TestAddEmbedFailureLeavesIndexUnchanged(t *testing.T) {
	e := &keywordEmbedder{}
	idx := openMemory(t, e)
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"cat"}, "d1", "a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.fail = true
	if err := idx.Add(ctx, []string{"dog"}, "d2", "b.txt"); err == nil {
		t.Fatalf("Add: expected error from embedder")
	}
	if idx.Count() != 1 {
		t.Fatalf("count: want=1 got=%d", idx.Count())
	}
}

func TestDegradedIndex(t *testing.T) {
	idx, err := Open(embedding.Selection{Kind: embedding.KindUnavailable}, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"cat"}, "d1", "a.txt"); !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("want ErrEmbeddingUnavailable, got=%v", err)
	}
	res, err := idx.Search(ctx, "cat", 5)
	if err != nil || len(res) != 0 {
		t.Fatalf("Search: want empty, got=%v err=%v", res, err)
	}
	st := idx.Stats()
	if st.Embedding != embedding.KindUnavailable || st.Dimension != DefaultDimension {
		t.Fatalf("stats: %+v", st)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	e := &keywordEmbedder{}
	idx := openMemory(t, e)
	res, err := idx.Search(context.Background(), "cat", 5)
	if err != nil || len(res) != 0 {
		t.Fatalf("Search: want empty, got=%v err=%v", res, err)
	}
	if e.queryCalls.Load() != 0 {
		t.Fatalf("empty index should not embed the query")
	}
}

func TestSearchOrderingAndRanks(t *testing.T) {
	idx := openMemory(t, &keywordEmbedder{})
	ctx := context.Background()
	texts := []string{"cat cat cat", "cat", "dog", "cat cat", "bird"}
	if err := idx.Add(ctx, texts, "d1", "mix.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tests := []struct {
		name string
		k    int
		want int
	}{
		{"fewer than total", 3, 3},
		{"exactly total", 5, 5},
		{"more than total", 50, 5},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := idx.Search(ctx, "cat cat", tt.k)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(res) != tt.want {
				t.Fatalf("len: want=%d got=%d", tt.want, len(res))
			}
			for r, sr := range res {
				if sr.Rank != r+1 {
					t.Fatalf("rank: want=%d got=%d", r+1, sr.Rank)
				}
				if r > 0 && sr.SimilarityScore < res[r-1].SimilarityScore {
					t.Fatalf("scores not ascending: %v then %v", res[r-1].SimilarityScore, sr.SimilarityScore)
				}
			}
		})
	}

	res, _ := idx.Search(ctx, "cat cat", 1)
	if res[0].Text != "cat cat" || res[0].SimilarityScore != 0 {
		t.Fatalf("nearest: want exact match with distance 0, got %+v", res[0])
	}
}

func TestSearchIsIdempotent(t *testing.T) {
	idx := openMemory(t, &keywordEmbedder{})
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"cat", "dog", "bird plane", "car"}, "d1", "a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	first, err := idx.Search(ctx, "cat and car", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	second, err := idx.Search(ctx, "cat and car", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated search differs:\n%v\n%v", first, second)
	}
}

func TestSearchEmbedFailure(t *testing.T) {
	e := &keywordEmbedder{}
	idx := openMemory(t, e)
	if err := idx.Add(context.Background(), []string{"cat"}, "d1", "a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.fail = true
	if _, err := idx.Search(context.Background(), "cat", 1); err == nil {
		t.Fatalf("Search: expected embed error")
	}
}

func TestRemoveRenumbersWithoutReembedding(t *testing.T) {
	e := &keywordEmbedder{}
	idx := openMemory(t, e)
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"cat", "cat cat"}, "d1", "cats.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(ctx, []string{"dog", "dog dog"}, "d2", "dogs.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(ctx, []string{"bird"}, "d3", "birds.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	calls := e.docCalls.Load()

	removed, err := idx.Remove(ctx, "d2")
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	if e.docCalls.Load() != calls {
		t.Fatalf("Remove re-embedded documents")
	}
	assertAligned(t, idx)
	for _, ch := range idx.Chunks() {
		if ch.DocumentID == "d2" {
			t.Fatalf("chunk of removed document survived: %+v", ch)
		}
	}
	res, err := idx.Search(ctx, "dog", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range res {
		if r.DocumentID == "d2" {
			t.Fatalf("search returned removed document: %+v", r)
		}
	}
	res, _ = idx.Search(ctx, "bird", 1)
	if res[0].DocumentID != "d3" || res[0].VectorID != 2 {
		t.Fatalf("surviving vector misaligned: %+v", res[0])
	}

	removed, err = idx.Remove(ctx, "missing")
	if err != nil || removed {
		t.Fatalf("Remove(missing): removed=%v err=%v", removed, err)
	}
}

func TestPetsAndVehicles(t *testing.T) {
	idx := openMemory(t, &keywordEmbedder{})
	ctx := context.Background()
	docs := []struct{ id, name, text string }{
		{"d1", "cats.txt", "Cats are small furry pets. A cat likes to nap."},
		{"d2", "dogs.txt", "Dogs are loyal. A dog barks at strangers."},
		{"d3", "birds.txt", "Birds can fly. A bird sings at dawn."},
	}
	for _, d := range docs {
		if err := idx.Add(ctx, []string{d.text}, d.id, d.name); err != nil {
			t.Fatalf("Add(%s): %v", d.name, err)
		}
	}
	res, err := idx.Search(ctx, "Tell me about cats", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res[0].Filename != "cats.txt" {
		t.Fatalf("top hit: want=cats.txt got=%s", res[0].Filename)
	}

	if err := idx.Add(ctx, []string{"The plane flew over the highway of cars."}, "d4", "vehicles.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	res, err = idx.Search(ctx, "car", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res[0].Filename != "vehicles.txt" {
		t.Fatalf("top hit: want=vehicles.txt got=%s", res[0].Filename)
	}
	res, _ = idx.Search(ctx, "Tell me about cats", 1)
	if res[0].Filename != "cats.txt" {
		t.Fatalf("top hit after vehicles: want=cats.txt got=%s", res[0].Filename)
	}

	docsInfo := idx.Documents()
	if len(docsInfo) != 4 || docsInfo[3].Filename != "vehicles.txt" {
		t.Fatalf("Documents: %+v", docsInfo)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := persist.New(dir, "vectors.bin", "metadata.db")
	e := &keywordEmbedder{}
	ctx := context.Background()

	idx, err := Open(selection(e), Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := idx.Add(ctx, []string{"cat", "dog"}, "d1", "a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(ctx, []string{"plane"}, "d2", "b.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	want, _ := idx.Search(ctx, "dog plane", 3)

	reopened, err := Open(selection(e), Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !reflect.DeepEqual(idx.Chunks(), reopened.Chunks()) {
		t.Fatalf("chunks differ after reload")
	}
	got, _ := reopened.Search(ctx, "dog plane", 3)
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("search differs after reload:\nwant=%v\ngot =%v", want, got)
	}

	if _, err := reopened.Remove(ctx, "d1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	again, err := Open(selection(e), Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if again.Count() != 1 {
		t.Fatalf("count after remove+reload: want=1 got=%d", again.Count())
	}
}

func TestOpenCorruptArtifactsStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	store := persist.New(dir, "vectors.bin", "metadata.db")
	e := &keywordEmbedder{}
	idx, err := Open(selection(e), Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := idx.Add(context.Background(), []string{"cat"}, "d1", "a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vectors.bin"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	reopened, err := Open(selection(e), Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Count() != 0 {
		t.Fatalf("count: want=0 got=%d", reopened.Count())
	}
	// The fresh index is usable and overwrites the corrupt files.
	if err := reopened.Add(context.Background(), []string{"dog"}, "d2", "b.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	final, err := Open(selection(e), Options{Store: store})
	if err != nil || final.Count() != 1 {
		t.Fatalf("reload: count=%d err=%v", final.Count(), err)
	}
}

type wideEmbedder struct{ keywordEmbedder }

func (w *wideEmbedder) Dimension() int { return len(axes) + 1 }

func TestOpenDimensionMismatchIsFatal(t *testing.T) {
	store := persist.New(t.TempDir(), "vectors.bin", "metadata.db")
	idx, err := Open(selection(&keywordEmbedder{}), Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := idx.Add(context.Background(), []string{"cat"}, "d1", "a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := Open(selection(&wideEmbedder{}), Options{Store: store}); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got=%v", err)
	}
	if _, err := Open(selection(&keywordEmbedder{}), Options{Dimension: 8}); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("configured dimension: want ErrDimensionMismatch, got=%v", err)
	}
}

func TestOpenWithoutEmbedderKeepsPersistedDocuments(t *testing.T) {
	store := persist.New(t.TempDir(), "vectors.bin", "metadata.db")
	idx, err := Open(selection(&keywordEmbedder{}), Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := idx.Add(context.Background(), []string{"cat"}, "d1", "a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	degraded, err := Open(embedding.Selection{Kind: embedding.KindUnavailable}, Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if degraded.Count() != 1 || degraded.Dimension() != len(axes) {
		t.Fatalf("degraded reload: count=%d dim=%d", degraded.Count(), degraded.Dimension())
	}
	removed, err := degraded.Remove(context.Background(), "d1")
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
}

func TestClear(t *testing.T) {
	store := persist.New(t.TempDir(), "vectors.bin", "metadata.db")
	e := &keywordEmbedder{}
	idx, err := Open(selection(e), Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := idx.Add(context.Background(), []string{"cat", "dog"}, "d1", "a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	reopened, err := Open(selection(e), Options{Store: store})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Count() != 0 {
		t.Fatalf("count after clear: want=0 got=%d", reopened.Count())
	}
}

func TestConcurrentAddAndSearch(t *testing.T) {
	idx := openMemory(t, &keywordEmbedder{})
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			texts := []string{"cat", "dog", "bird"}
			if err := idx.Add(ctx, texts, fmt.Sprintf("d%d", w), "f.txt"); err != nil {
				t.Errorf("Add: %v", err)
			}
		}(w)
		go func() {
			defer wg.Done()
			res, err := idx.Search(ctx, "dog", 4)
			if err != nil {
				t.Errorf("Search: %v", err)
			}
			for _, r := range res {
				if r.Text == "" {
					t.Errorf("torn result: %+v", r)
				}
			}
		}()
	}
	wg.Wait()
	if idx.Count() != 24 {
		t.Fatalf("count: want=24 got=%d", idx.Count())
	}
	assertAligned(t, idx)
	for _, d := range idx.Documents() {
		if d.Chunks != 3 {
			t.Fatalf("document %s: want 3 chunks got %d", d.DocumentID, d.Chunks)
		}
	}
	// Chunks of one batch stay contiguous.
	chunks := idx.Chunks()
	for i := 0; i < len(chunks); i += 3 {
		if chunks[i].DocumentID != chunks[i+1].DocumentID || chunks[i].DocumentID != chunks[i+2].DocumentID {
			t.Fatalf("batch interleaved at %d", i)
		}
	}
}

func TestRemoveDocumentScenario(t *testing.T) {
	idx := openMemory(t, &keywordEmbedder{})
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"cat", "dog", "bird"}, "A", "a.txt"); err != nil {
		t.Fatalf("Add(A): %v", err)
	}
	if err := idx.Add(ctx, []string{"plane", "car"}, "B", "b.txt"); err != nil {
		t.Fatalf("Add(B): %v", err)
	}

	res, err := idx.Search(ctx, "cat", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) > 2 {
		t.Fatalf("len: want<=2 got=%d", len(res))
	}
	if res[0].Rank != 1 || res[0].Text != "cat" || res[0].SimilarityScore > res[1].SimilarityScore {
		t.Fatalf("rank 1 is not the nearest chunk: %+v", res)
	}

	removed, err := idx.Remove(ctx, "A")
	if err != nil || !removed {
		t.Fatalf("Remove(A): removed=%v err=%v", removed, err)
	}
	chunks := idx.Chunks()
	if len(chunks) != 2 || idx.Stats().IndexSize != 2 {
		t.Fatalf("after remove: want 2 vectors, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch.DocumentID != "B" {
			t.Fatalf("chunk of A survived: %+v", ch)
		}
	}
	assertAligned(t, idx)
}
