package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"docchat/internal/domain"
	"docchat/internal/service"
)

type fakeChat struct {
	lastID  string
	cleared []string
}

func (f *fakeChat) Chat(ctx context.Context, question, conversationID string, k int) service.ChatResponse {
	f.lastID = conversationID
	id := conversationID
	if id == "" {
		id = "conv-1"
	}
	return service.ChatResponse{Answer: "echo " + question, Sources: []string{"a.txt"}, ConversationID: id, ContextChunksFound: 1}
}

func (f *fakeChat) ClearConversation(id string) bool {
	f.cleared = append(f.cleared, id)
	return true
}

func (f *fakeChat) History(id string) []domain.Message {
	if id == "" {
		return nil
	}
	return []domain.Message{{Role: domain.RoleUser, Content: "q"}, {Role: domain.RoleAssistant, Content: "a"}}
}

func typeText(m tea.Model, s string) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func TestAskRendersAnswerAndSources(t *testing.T) {
	chat := &fakeChat{}
	var m tea.Model = New(chat, "test", 5)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m = typeText(m, "what is up")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("enter: expected a command")
	}
	if !m.(Model).waiting {
		t.Fatalf("enter: want waiting state")
	}
	resp := chat.Chat(context.Background(), "what is up", "", 5)
	m, _ = m.Update(answerMsg{question: "what is up", resp: resp})

	got := m.(Model)
	if got.waiting || got.conversationID != "conv-1" || len(got.transcript) != 1 {
		t.Fatalf("after answer: waiting=%v id=%q entries=%d", got.waiting, got.conversationID, len(got.transcript))
	}
	out := renderTranscript(got.transcript, 80)
	if !strings.Contains(out, "echo what is up") || !strings.Contains(out, "Sources: a.txt") {
		t.Fatalf("transcript: %q", out)
	}
}

func TestNewConversationClearsHistory(t *testing.T) {
	chat := &fakeChat{}
	var m tea.Model = New(chat, "test", 5)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m, _ = m.Update(answerMsg{question: "q", resp: service.ChatResponse{Answer: "a", ConversationID: "conv-9"}})

	m = typeText(m, "/new")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	got := m.(Model)
	if got.conversationID != "" || len(got.transcript) != 0 {
		t.Fatalf("after /new: id=%q entries=%d", got.conversationID, len(got.transcript))
	}
	if len(chat.cleared) != 1 || chat.cleared[0] != "conv-9" {
		t.Fatalf("cleared: %v", chat.cleared)
	}
}

func TestErrorShownInStatus(t *testing.T) {
	var m tea.Model = New(&fakeChat{}, "test", 5)
	m, _ = m.Update(answerMsg{question: "q", resp: service.ChatResponse{Answer: "sorry", Error: "generation backend not configured"}})
	if s := m.(Model).status; !strings.Contains(s, "not configured") {
		t.Fatalf("status: %q", s)
	}
}

func TestHistoryCommand(t *testing.T) {
	var m tea.Model = New(&fakeChat{}, "test", 5)
	m = typeText(m, "/history")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || m.(Model).waiting {
		t.Fatalf("/history must not send a question")
	}
	if s := m.(Model).status; !strings.Contains(s, "No stored history") {
		t.Fatalf("status: %q", s)
	}

	m, _ = m.Update(answerMsg{question: "q", resp: service.ChatResponse{Answer: "a", ConversationID: "conv-3"}})
	m = typeText(m, "/history")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if s := m.(Model).status; !strings.Contains(s, "2 messages stored") {
		t.Fatalf("status: %q", s)
	}
}
