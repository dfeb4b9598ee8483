package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docchat/internal/domain"
	"docchat/internal/logger"
)

// DocumentIndex is the write side of the vector index.
type DocumentIndex interface {
	Add(ctx context.Context, texts []string, documentID, filename string) error
	Remove(ctx context.Context, documentID string) (bool, error)
	Documents() []domain.DocumentInfo
}

type Summarizer interface {
	Summarize(text string, maxSentences int) string
}

type IngestResult struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Chunks     int    `json:"chunks"`
	Summary    string `json:"summary,omitempty"`
}

// DocumentService chunks extracted document text into the index.
type DocumentService struct {
	index            DocumentIndex
	chunker          domain.Chunker
	summarizer       Summarizer
	summarySentences int
	log              *logger.Logger
	newID            func() string
}

// NewDocumentService wires ingestion. summarizer may be nil, and a
// summarySentences of zero disables digests.
func NewDocumentService(index DocumentIndex, chunker domain.Chunker, summarizer Summarizer, summarySentences int, log *logger.Logger) *DocumentService {
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentService{
		index:            index,
		chunker:          chunker,
		summarizer:       summarizer,
		summarySentences: summarySentences,
		log:              log,
		newID:            func() string { return uuid.NewString() },
	}
}

// IngestText indexes already extracted text as a new document.
func (s *DocumentService) IngestText(ctx context.Context, filename, text string) (IngestResult, error) {
	if strings.TrimSpace(text) == "" {
		return IngestResult{}, fmt.Errorf("%s: %w", filename, domain.ErrExtractionEmpty)
	}
	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return IngestResult{}, fmt.Errorf("%s: %w", filename, domain.ErrExtractionEmpty)
	}
	id := s.newID()
	if err := s.index.Add(ctx, chunks, id, filename); err != nil {
		return IngestResult{}, fmt.Errorf("index %s: %w", filename, err)
	}
	res := IngestResult{DocumentID: id, Filename: filename, Chunks: len(chunks)}
	if s.summarizer != nil && s.summarySentences > 0 {
		res.Summary = s.summarizer.Summarize(text, s.summarySentences)
	}
	s.log.Info("document ingested", "document_id", id, "filename", filename, "chunks", len(chunks))
	return res, nil
}

// IngestFiles ingests every .txt file named by paths, expanding globs.
// It stops at the first failing file and returns what was ingested so far.
func (s *DocumentService) IngestFiles(ctx context.Context, paths []string) ([]IngestResult, error) {
	var files []string
	for _, p := range paths {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, err
		}
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if strings.HasSuffix(strings.ToLower(m), ".txt") {
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no .txt documents found")
	}

	var results []IngestResult
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return results, err
		}
		res, err := s.IngestText(ctx, filepath.Base(f), string(data))
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *DocumentService) Remove(ctx context.Context, documentID string) (bool, error) {
	return s.index.Remove(ctx, documentID)
}

func (s *DocumentService) Documents() []domain.DocumentInfo {
	return s.index.Documents()
}
