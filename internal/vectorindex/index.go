package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"docchat/internal/domain"
	"docchat/internal/embedding"
	"docchat/internal/logger"
	"docchat/internal/vectorindex/persist"
)

// DefaultDimension is used when no embedder is available and nothing is
// persisted.
const DefaultDimension = 384

// Options configures Open.
type Options struct {
	// Store persists the index after every mutation. Nil keeps the index
	// in memory only.
	Store *persist.Store
	// Dimension is the expected embedding dimension. Zero accepts whatever
	// the embedder reports.
	Dimension int
	Logger    *logger.Logger
}

// Index is a flat exact vector index using squared L2 distance. Position i
// of vectors belongs to chunks[i], and chunks[i].VectorID == i.
type Index struct {
	mu       sync.RWMutex
	embedder embedding.Embedder
	kind     embedding.Kind
	dim      int
	vectors  [][]float32
	chunks   []domain.Chunk
	store    *persist.Store
	log      *logger.Logger
}

// Stats describes the index contents.
type Stats struct {
	TotalChunks    int            `json:"total_chunks"`
	TotalDocuments int            `json:"total_documents"`
	IndexSize      int            `json:"index_size"`
	Dimension      int            `json:"dimension"`
	Embedding      embedding.Kind `json:"embedding"`
}

// Open builds an index around the selected embedder and loads persisted
// state. Missing or corrupt artifacts give a fresh empty index; a persisted
// index of another dimension is returned as ErrDimensionMismatch.
func Open(sel embedding.Selection, opts Options) (*Index, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	idx := &Index{
		embedder: sel.Embedder,
		kind:     sel.Kind,
		store:    opts.Store,
		log:      log,
	}
	switch {
	case sel.Available():
		idx.dim = sel.Embedder.Dimension()
		if opts.Dimension > 0 && opts.Dimension != idx.dim {
			return nil, fmt.Errorf("%w: embedder %s has dimension %d, configured %d",
				domain.ErrDimensionMismatch, sel.Embedder.Name(), idx.dim, opts.Dimension)
		}
	case opts.Dimension > 0:
		idx.dim = opts.Dimension
	default:
		idx.dim = DefaultDimension
	}
	if idx.kind == "" {
		idx.kind = embedding.KindUnavailable
	}
	if err := idx.Load(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Load replaces the in-memory state with the persisted artifacts.
func (i *Index) Load() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.vectors, i.chunks = nil, nil
	if i.store == nil {
		return nil
	}
	snap, err := i.store.Load()
	if err != nil {
		if errors.Is(err, domain.ErrIndexCorruption) {
			i.log.Warn("index artifacts unusable, starting with an empty index", "error", err)
			return nil
		}
		return err
	}
	if snap.Dimension != i.dim {
		if i.embedder != nil {
			return fmt.Errorf("%w: persisted index has dimension %d, embedder %s has %d",
				domain.ErrDimensionMismatch, snap.Dimension, i.embedder.Name(), i.dim)
		}
		// Without an embedder the persisted index stays readable for
		// listing and removal.
		i.dim = snap.Dimension
	}
	i.vectors, i.chunks = snap.Vectors, snap.Chunks
	i.log.Info("index loaded", "chunks", len(i.chunks), "dimension", i.dim)
	return nil
}

func (i *Index) persistLocked() error {
	if i.store == nil {
		return nil
	}
	err := i.store.Save(persist.Snapshot{Dimension: i.dim, Vectors: i.vectors, Chunks: i.chunks})
	if err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	i.log.Debug("index persisted", "chunks", len(i.chunks))
	return nil
}

// Add embeds texts in one batch and appends them in input order as chunks
// of the given document.
func (i *Index) Add(ctx context.Context, texts []string, documentID, filename string) error {
	if len(texts) == 0 {
		return domain.ErrExtractionEmpty
	}
	i.mu.RLock()
	emb, dim := i.embedder, i.dim
	i.mu.RUnlock()
	if emb == nil {
		return domain.ErrEmbeddingUnavailable
	}

	vecs, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for j, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, index %d", domain.ErrDimensionMismatch, j, len(v), dim)
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	base := len(i.chunks)
	for j, text := range texts {
		vec := make([]float32, dim)
		copy(vec, vecs[j])
		i.vectors = append(i.vectors, vec)
		i.chunks = append(i.chunks, domain.Chunk{
			DocumentID: documentID,
			Filename:   filename,
			ChunkIndex: j,
			Text:       text,
			VectorID:   base + j,
		})
	}
	i.log.Info("document indexed", "document_id", documentID, "filename", filename, "chunks", len(texts))
	if err := i.persistLocked(); err != nil {
		i.log.Error("index persist failed, state kept in memory", "error", err)
	}
	return nil
}

// Search returns the min(k, total) chunks nearest to query by ascending
// squared L2 distance. An empty index or a missing embedder yields no
// results.
func (i *Index) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	i.mu.RLock()
	emb, n := i.embedder, len(i.vectors)
	i.mu.RUnlock()
	if emb == nil || n == 0 {
		return nil, nil
	}

	q, err := emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(q) != i.dim {
		return nil, fmt.Errorf("%w: query vector has dimension %d, index %d", domain.ErrDimensionMismatch, len(q), i.dim)
	}
	dists := make([]float32, len(i.vectors))
	for j, v := range i.vectors {
		dists[j] = squaredL2(v, q)
	}
	idxs := argsortAsc(dists)
	if k > len(idxs) {
		k = len(idxs)
	}
	results := make([]domain.SearchResult, 0, k)
	for r := 0; r < k; r++ {
		j := idxs[r]
		results = append(results, domain.SearchResult{
			Chunk:           i.chunks[j],
			SimilarityScore: float64(dists[j]),
			Rank:            r + 1,
		})
	}
	return results, nil
}

// Remove drops every chunk of documentID, rebuilding the index from the
// surviving vectors and renumbering them. It reports whether anything was
// removed.
func (i *Index) Remove(ctx context.Context, documentID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	vectors := make([][]float32, 0, len(i.vectors))
	chunks := make([]domain.Chunk, 0, len(i.chunks))
	for j, ch := range i.chunks {
		if ch.DocumentID == documentID {
			continue
		}
		ch.VectorID = len(chunks)
		chunks = append(chunks, ch)
		vectors = append(vectors, i.vectors[j])
	}
	removed := len(i.chunks) - len(chunks)
	if removed == 0 {
		return false, nil
	}
	i.vectors, i.chunks = vectors, chunks
	i.log.Info("document removed", "document_id", documentID, "chunks", removed, "remaining", len(chunks))
	if err := i.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// Clear empties the index and persists the empty state.
func (i *Index) Clear() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.vectors, i.chunks = nil, nil
	return i.persistLocked()
}

// Count is the number of indexed chunks.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.chunks)
}

// Dimension is the vector dimension of the index.
func (i *Index) Dimension() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.dim
}

// Chunks returns a copy of the chunk metadata in vector order.
func (i *Index) Chunks() []domain.Chunk {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]domain.Chunk, len(i.chunks))
	copy(out, i.chunks)
	return out
}

// Documents lists indexed documents in the order they were first added.
func (i *Index) Documents() []domain.DocumentInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return documents(i.chunks)
}

func (i *Index) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Stats{
		TotalChunks:    len(i.chunks),
		TotalDocuments: len(documents(i.chunks)),
		IndexSize:      len(i.vectors),
		Dimension:      i.dim,
		Embedding:      i.kind,
	}
}

func documents(chunks []domain.Chunk) []domain.DocumentInfo {
	var out []domain.DocumentInfo
	pos := map[string]int{}
	for _, ch := range chunks {
		p, ok := pos[ch.DocumentID]
		if !ok {
			pos[ch.DocumentID] = len(out)
			out = append(out, domain.DocumentInfo{DocumentID: ch.DocumentID, Filename: ch.Filename})
			p = len(out) - 1
		}
		out[p].Chunks++
	}
	return out
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for j := range a {
		d := a[j] - b[j]
		sum += d * d
	}
	return sum
}

// argsortAsc orders positions by distance; equal distances keep insertion
// order so results are deterministic.
func argsortAsc(vals []float32) []int {
	idxs := make([]int, len(vals))
	for j := range vals {
		idxs[j] = j
	}
	sort.SliceStable(idxs, func(a, b int) bool { return vals[idxs[a]] < vals[idxs[b]] })
	return idxs
}
