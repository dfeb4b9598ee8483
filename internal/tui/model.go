package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docchat/internal/domain"
	"docchat/internal/service"
)

// ChatPort is the TUI-facing subset of the chat service.
type ChatPort interface {
	Chat(ctx context.Context, question, conversationID string, k int) service.ChatResponse
	ClearConversation(conversationID string) bool
	History(conversationID string) []domain.Message
}

type entry struct {
	question string
	resp     service.ChatResponse
}

type answerMsg struct {
	question string
	resp     service.ChatResponse
}

// Model is the Bubble Tea model for the chat client.
type Model struct {
	service        ChatPort
	input          textinput.Model
	viewport       viewport.Model
	spinner        spinner.Model
	transcript     []entry
	conversationID string
	header         string
	status         string
	waiting        bool
	ready          bool
	topK           int
}

// New creates a chat model. header is shown above the transcript.
func New(svc ChatPort, header string, topK int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your documents and press Enter (/new starts over, /history counts stored turns)"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		service:  svc,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		header:   header,
		status:   "Ready.",
		topK:     topK,
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(question string) tea.Cmd {
	id := m.conversationID
	return func() tea.Msg {
		return answerMsg{question: question, resp: m.service.Chat(context.Background(), question, id, m.topK)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, subheader, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil
	case answerMsg:
		m.waiting = false
		m.conversationID = msg.resp.ConversationID
		m.transcript = append(m.transcript, entry{question: msg.question, resp: msg.resp})
		if msg.resp.Error != "" {
			m.status = "Error: " + msg.resp.Error
		} else {
			m.status = fmt.Sprintf("%d context chunks used.", msg.resp.ContextChunksFound)
		}
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.waiting {
				return m, nil
			}
			m.input.SetValue("")
			if q == "/new" {
				if m.conversationID != "" {
					m.service.ClearConversation(m.conversationID)
				}
				m.conversationID = ""
				m.transcript = nil
				m.status = "Started a new conversation."
				m.refresh()
				return m, nil
			}
			if q == "/history" {
				m.status = historyStatus(m.service.History(m.conversationID))
				return m, nil
			}
			m.waiting = true
			m.status = "Thinking..."
			return m, tea.Batch(m.ask(q), m.spinner.Tick)
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// historyStatus reports what the service remembers; it can hold fewer
// turns than the transcript once the history cap is reached.
func historyStatus(msgs []domain.Message) string {
	if len(msgs) == 0 {
		return "No stored history for this conversation."
	}
	return fmt.Sprintf("%d messages stored for this conversation.", len(msgs))
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document Chat")
	sub := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.header)
	input := queryBoxStyle.Render(m.input.View())
	status := m.status
	if m.waiting {
		status = m.spinner.View() + " " + status
	}
	status = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(status)
	return header + "\n" + sub + "\n" + transcriptBoxStyle.Render(m.viewport.View()) + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(renderTranscript(m.transcript, m.viewport.Width))
	m.viewport.GotoBottom()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

func renderTranscript(entries []entry, width int) string {
	if len(entries) == 0 {
		return "No messages yet."
	}
	wrap := lipgloss.NewStyle().Width(max(10, width-4))
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(userStyle.Render("You: "))
		b.WriteString(wrap.Render(e.question))
		b.WriteString("\n")
		b.WriteString(assistantStyle.Render("Assistant: "))
		b.WriteString(wrap.Render(e.resp.Answer))
		if len(e.resp.Sources) > 0 {
			b.WriteString("\n")
			b.WriteString(sourceStyle.Render("Sources: " + strings.Join(e.resp.Sources, ", ")))
		}
	}
	return b.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
