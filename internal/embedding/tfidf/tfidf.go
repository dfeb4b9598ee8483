package tfidf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const modelVersion = 1

// Model is the on-disk form of a fitted TF-IDF vectorizer.
type Model struct {
	Version    int       `json:"version"`
	Vocabulary []string  `json:"vocabulary"`
	IDF        []float64 `json:"idf"`
}

// Embedder is a local TF-IDF vectorizer with a fixed vocabulary, so the
// same model file always yields the same vectors.
type Embedder struct {
	vocabulary   map[string]int
	idf          []float64
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// Fit builds the vocabulary and IDF values from the provided corpus.
func Fit(corpus []string) (*Embedder, error) {
	if len(corpus) == 0 {
		return nil, errors.New("empty corpus for TF-IDF fit")
	}
	e := newEmbedder()
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range e.tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	// Create stable ordering for vocabulary
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	if len(terms) == 0 {
		return nil, errors.New("no tokens found in corpus; ensure tokenizer supports your language")
	}
	idf := make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		// Smoothed IDF
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return e.withModel(Model{Version: modelVersion, Vocabulary: terms, IDF: idf})
}

// Load reads a model written by Save.
func Load(path string) (*Embedder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tfidf model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode tfidf model %s: %w", path, err)
	}
	if m.Version != modelVersion {
		return nil, fmt.Errorf("tfidf model %s: unsupported version %d", path, m.Version)
	}
	return newEmbedder().withModel(m)
}

// Save writes the fitted model to path, creating directories as needed.
func (e *Embedder) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(e.Model())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Model returns the serializable form of the vectorizer.
func (e *Embedder) Model() Model {
	vocab := make([]string, len(e.vocabulary))
	for term, idx := range e.vocabulary {
		vocab[idx] = term
	}
	idf := make([]float64, len(e.idf))
	copy(idf, e.idf)
	return Model{Version: modelVersion, Vocabulary: vocab, IDF: idf}
}

func (e *Embedder) Name() string { return "tfidf" }

func (e *Embedder) Dimension() int { return len(e.idf) }

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

func (e *Embedder) embed(text string) []float32 {
	vec := make([]float32, len(e.idf))
	tf := make(map[int]int)
	total := 0
	for _, tok := range e.tokenize(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec
	}
	weights := make(map[int]float64, len(tf))
	norm := 0.0
	for idx, count := range tf {
		w := float64(count) / float64(total) * e.idf[idx]
		weights[idx] = w
		norm += w * w
	}
	// L2 normalize
	norm = math.Sqrt(norm)
	for idx, w := range weights {
		vec[idx] = float32(w / norm)
	}
	return vec
}

func newEmbedder() *Embedder {
	return &Embedder{
		vocabulary:   make(map[string]int),
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

func (e *Embedder) withModel(m Model) (*Embedder, error) {
	if len(m.Vocabulary) == 0 || len(m.Vocabulary) != len(m.IDF) {
		return nil, fmt.Errorf("tfidf model: vocabulary size %d does not match idf size %d", len(m.Vocabulary), len(m.IDF))
	}
	e.vocabulary = make(map[string]int, len(m.Vocabulary))
	for i, term := range m.Vocabulary {
		e.vocabulary[term] = i
	}
	e.idf = m.IDF
	return e, nil
}

func (e *Embedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
