package chunker

import (
	"strings"
	"unicode/utf8"
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveChunker splits text on the coarsest separator that occurs in it,
// recursing into pieces that are still longer than chunkSize, then merges
// adjacent pieces back into chunks of at most chunkSize runes that share
// up to chunkOverlap runes with their predecessor.
type RecursiveChunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

func NewRecursiveChunker(chunkSize, chunkOverlap int) *RecursiveChunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &RecursiveChunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

func (c *RecursiveChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.split(text, c.separators)
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		pieces = strings.Split(text, separator)
	}

	var out, good []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if runeLen(p) < c.chunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, c.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good, separator)...)
	}
	return out
}

func (c *RecursiveChunker) merge(pieces []string, separator string) []string {
	sepLen := runeLen(separator)
	var docs, current []string
	total := 0
	join := func() {
		if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
			docs = append(docs, doc)
		}
	}
	for _, p := range pieces {
		l := runeLen(p)
		extra := 0
		if len(current) > 0 {
			extra = sepLen
		}
		if total+l+extra > c.chunkSize && len(current) > 0 {
			join()
			for total > c.chunkOverlap || (total+l+extraFor(current, sepLen) > c.chunkSize && total > 0) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
		if len(current) > 1 {
			total += sepLen
		}
	}
	join()
	return docs
}

func extraFor(current []string, sepLen int) int {
	if len(current) > 0 {
		return sepLen
	}
	return 0
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
