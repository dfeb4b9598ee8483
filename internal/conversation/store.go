package conversation

import (
	"sort"
	"sync"

	"docchat/internal/domain"
)

// DefaultMaxMessages bounds a conversation's history.
const DefaultMaxMessages = 20

// Store keeps per-conversation message history in memory. Conversations
// are never evicted.
type Store struct {
	mu          sync.Mutex
	maxMessages int
	convs       map[string][]domain.Message
}

// Stats summarizes the store.
type Stats struct {
	ActiveConversations int `json:"active_conversations"`
	TotalMessages       int `json:"total_messages"`
}

func NewStore(maxMessages int) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Store{maxMessages: maxMessages, convs: make(map[string][]domain.Message)}
}

// Recent returns up to n of the latest messages of id, oldest first.
func (s *Store) Recent(id string, n int) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return nil
	}
	msgs := s.convs[id]
	if n < len(msgs) {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

// History returns the full retained history of id.
func (s *Store) History(id string) []domain.Message {
	return s.Recent(id, s.maxMessages)
}

// AppendTurn records a user message and the assistant reply as one step,
// then trims to the newest maxMessages.
func (s *Store) AppendTurn(id, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.convs[id],
		domain.Message{Role: domain.RoleUser, Content: question},
		domain.Message{Role: domain.RoleAssistant, Content: answer},
	)
	if len(msgs) > s.maxMessages {
		trimmed := make([]domain.Message, s.maxMessages)
		copy(trimmed, msgs[len(msgs)-s.maxMessages:])
		msgs = trimmed
	}
	s.convs[id] = msgs
}

// Clear forgets id and reports whether it existed.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return false
	}
	delete(s.convs, id)
	return true
}

// IDs lists known conversation ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{ActiveConversations: len(s.convs)}
	for _, msgs := range s.convs {
		st.TotalMessages += len(msgs)
	}
	return st
}
