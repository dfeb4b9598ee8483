package generation

import (
	"context"
	"strings"

	"docchat/internal/domain"
)

// Generator produces a completion for an ordered message list: system
// instruction first, then history, then the user question.
type Generator interface {
	Name() string
	Generate(ctx context.Context, messages []domain.Message) (string, error)
}

// ContextAnswerer is implemented by backends that answer straight from the
// retrieved chunks instead of a composed prompt.
type ContextAnswerer interface {
	Answer(question string, results []domain.SearchResult) string
}

// SplitSystem separates system messages, joined by blank lines, from the
// conversational ones. Backends with a dedicated system field use it.
func SplitSystem(messages []domain.Message) (string, []domain.Message) {
	var sys []string
	rest := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}
