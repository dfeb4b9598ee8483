package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
	wordPattern     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// Frequency builds extractive digests of ingested documents by ranking
// sentences on normalized content-word frequency.
type Frequency struct {
	stopwords map[string]struct{}
}

func NewFrequency() *Frequency {
	return &Frequency{stopwords: stopwords()}
}

type scored struct {
	pos   int
	score float64
}

// Summarize picks up to maxSentences top-ranked sentences and returns them
// in document order. Text without sentence punctuation is returned trimmed.
func (f *Frequency) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		return ""
	}
	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}

	tokens := make([][]string, len(sentences))
	weights := map[string]float64{}
	peak := 0.0
	for i, sent := range sentences {
		tokens[i] = wordPattern.FindAllString(strings.ToLower(sent), -1)
		for _, tok := range tokens[i] {
			if _, stop := f.stopwords[tok]; stop {
				continue
			}
			weights[tok]++
			peak = math.Max(peak, weights[tok])
		}
	}

	ranked := make([]scored, len(sentences))
	for i, toks := range tokens {
		sum := 0.0
		for _, tok := range toks {
			sum += weights[tok] / peak
		}
		if len(toks) > 0 {
			sum /= math.Sqrt(float64(len(toks)))
		}
		ranked[i] = scored{pos: i, score: sum}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	if maxSentences < len(ranked) {
		ranked = ranked[:maxSentences]
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].pos < ranked[b].pos })

	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = strings.TrimSpace(sentences[r.pos])
	}
	return strings.Join(out, " ")
}

func stopwords() map[string]struct{} {
	words := strings.Fields(`a an the and or but if then else for to of in on at by with as is are
		was were be been being it this that these those from up down over under again further than
		so such into about between through during before after above below out off own same too very
		can will just don should now`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
