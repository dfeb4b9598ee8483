package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat/internal/conversation"
	"docchat/internal/domain"
	"docchat/internal/generation"
	"docchat/internal/logger"
	"docchat/internal/vectorindex"
)

const (
	notConfiguredAnswer = "I apologize, but the AI chat service is not configured. Please set up generation credentials in the .env file to enable chat functionality."
	failureAnswer       = "I apologize, but there was an error retrieving the response from the AI service. Please try again later."

	noContextPrompt = "You are a helpful AI assistant. The user is asking a question, but no relevant documents were found in the knowledge base. Please let them know that you don't have specific information about their query in the uploaded documents, but you can provide general assistance if helpful."

	contextPromptHead = "You are a helpful AI assistant that answers questions based on the provided document context. \n\nCONTEXT FROM UPLOADED DOCUMENTS:\n"
	contextPromptTail = `

INSTRUCTIONS:
1. Answer the user's question using ONLY the information provided in the context above
2. If the context doesn't contain enough information to answer the question, say so clearly
3. Always cite which document(s) you're referencing in your answer
4. Be concise but comprehensive
5. If asked about something not in the documents, explain that the information is not available in the uploaded documents

Remember: Only use information from the provided context. Do not make up information or use knowledge outside of the provided documents.`
)

// Retriever is the part of the vector index the chat service reads.
type Retriever interface {
	domain.Searcher
	Stats() vectorindex.Stats
}

type ChatConfig struct {
	DefaultK      int
	HistoryWindow int
	Timeout       time.Duration
}

// ChatResponse is the outcome of one chat turn. Error is set, and Sources
// empty, whenever Answer is a fixed fallback text.
type ChatResponse struct {
	Answer             string   `json:"answer"`
	Sources            []string `json:"sources"`
	ConversationID     string   `json:"conversation_id"`
	ContextChunksFound int      `json:"context_chunks_found"`
	Error              string   `json:"error,omitempty"`
}

type ChatStats struct {
	Conversations conversation.Stats `json:"conversations"`
	Index         vectorindex.Stats  `json:"index"`
	Generator     string             `json:"generator"`
}

// ChatService answers questions from retrieved document context.
type ChatService struct {
	retriever Retriever
	generator generation.Generator
	history   *conversation.Store
	cfg       ChatConfig
	log       *logger.Logger
	newID     func() string
}

// NewChatService wires the orchestrator. A nil generator puts chat in the
// not-configured mode.
func NewChatService(retriever Retriever, generator generation.Generator, history *conversation.Store, cfg ChatConfig, log *logger.Logger) *ChatService {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 5
	}
	switch {
	case cfg.HistoryWindow == 0:
		cfg.HistoryWindow = 6
	case cfg.HistoryWindow < 0:
		cfg.HistoryWindow = 0
	}
	if history == nil {
		history = conversation.NewStore(conversation.DefaultMaxMessages)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ChatService{
		retriever: retriever,
		generator: generator,
		history:   history,
		cfg:       cfg,
		log:       log,
		newID:     func() string { return uuid.NewString() },
	}
}

// Chat runs one question through retrieval and generation. It never
// returns an error; failures are reported in the response.
func (s *ChatService) Chat(ctx context.Context, question, conversationID string, k int) ChatResponse {
	if conversationID == "" {
		conversationID = s.newID()
	}
	if s.generator == nil {
		return ChatResponse{
			Answer:         notConfiguredAnswer,
			Sources:        []string{},
			ConversationID: conversationID,
			Error:          domain.ErrGenerationUnavailable.Error(),
		}
	}
	if k <= 0 {
		k = s.cfg.DefaultK
	}

	results, err := s.retriever.Search(ctx, question, k)
	if err != nil {
		s.log.Warn("retrieval failed, answering without context", "conversation_id", conversationID, "error", err)
		results = nil
	}

	if ca, ok := s.generator.(generation.ContextAnswerer); ok {
		answer := ca.Answer(question, results)
		s.history.AppendTurn(conversationID, question, answer)
		return ChatResponse{
			Answer:             answer,
			Sources:            sources(results),
			ConversationID:     conversationID,
			ContextChunksFound: len(results),
		}
	}

	messages := make([]domain.Message, 0, s.cfg.HistoryWindow+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: systemPrompt(results)})
	messages = append(messages, s.history.Recent(conversationID, s.cfg.HistoryWindow)...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: question})

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	start := time.Now()
	answer, err := s.generator.Generate(genCtx, messages)
	if err != nil {
		s.log.Error("generation failed",
			"conversation_id", conversationID,
			"generator", s.generator.Name(),
			"messages", len(messages),
			"elapsed", time.Since(start),
			"error", err,
		)
		return ChatResponse{
			Answer:         failureAnswer,
			Sources:        []string{},
			ConversationID: conversationID,
			Error:          domain.ErrGenerationFailure.Error(),
		}
	}
	s.log.Debug("generation done", "conversation_id", conversationID, "chars", len(answer), "elapsed", time.Since(start))

	s.history.AppendTurn(conversationID, question, answer)

	return ChatResponse{
		Answer:             answer,
		Sources:            sources(results),
		ConversationID:     conversationID,
		ContextChunksFound: len(results),
	}
}

func (s *ChatService) History(conversationID string) []domain.Message {
	return s.history.History(conversationID)
}

func (s *ChatService) ClearConversation(conversationID string) bool {
	return s.history.Clear(conversationID)
}

// Available reports whether a generation backend is configured.
func (s *ChatService) Available() bool { return s.generator != nil }

func (s *ChatService) Stats() ChatStats {
	st := ChatStats{
		Conversations: s.history.Stats(),
		Index:         s.retriever.Stats(),
		Generator:     "none",
	}
	if s.generator != nil {
		st.Generator = s.generator.Name()
	}
	return st
}

func systemPrompt(results []domain.SearchResult) string {
	if len(results) == 0 {
		return noContextPrompt
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("Document: %s\nContent: %s", r.Filename, r.Text)
	}
	return contextPromptHead + strings.Join(parts, "\n\n") + contextPromptTail
}

// sources lists distinct filenames in rank order.
func sources(results []domain.SearchResult) []string {
	out := make([]string, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if _, ok := seen[r.Filename]; ok {
			continue
		}
		seen[r.Filename] = struct{}{}
		out = append(out, r.Filename)
	}
	return out
}
