// Package local answers questions by quoting the best matching chunks. It
// needs no model or credentials.
package local

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"docchat/internal/domain"
)

const (
	defaultMaxChunks = 3

	longChunk  = 200
	shortQuote = 150

	footer = "This information was extracted from the uploaded documents. For more detailed analysis, consider configuring an AI language model."
)

type Generator struct {
	maxChunks int
}

// NewGenerator quotes up to maxChunks chunks per answer; zero or less
// uses 3.
func NewGenerator(maxChunks int) *Generator {
	if maxChunks <= 0 {
		maxChunks = defaultMaxChunks
	}
	return &Generator{maxChunks: maxChunks}
}

func (g *Generator) Name() string { return "local" }

// Generate has no retrieved chunks to quote, so it answers the last user
// message with the nothing-found text.
func (g *Generator) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return g.Answer(messages[i].Content, nil), nil
		}
	}
	return "", fmt.Errorf("local generator: no user message")
}

// Answer lists the leading chunks in rank order, shortening long ones to
// their first sentences.
func (g *Generator) Answer(question string, results []domain.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("I couldn't find any relevant information about '%s' in the uploaded documents. Please make sure you've uploaded documents that contain information related to your question.", question)
	}
	if len(results) > g.maxChunks {
		results = results[:g.maxChunks]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on the uploaded documents, here's what I found regarding '%s':\n\n", question)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, quote(r.Text))
	}
	b.WriteString(footer)
	return b.String()
}

// quote keeps the first two sentences of a long chunk, or three when two
// are very short.
func quote(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= longChunk {
		return trimmed
	}
	sentences := strings.Split(trimmed, ". ")
	out := strings.Join(sentences[:min(2, len(sentences))], ". ")
	if utf8.RuneCountInString(out) < shortQuote && len(sentences) > 2 {
		out = strings.Join(sentences[:3], ". ")
	}
	if utf8.RuneCountInString(out) < utf8.RuneCountInString(text) {
		out += "..."
	}
	return out
}
