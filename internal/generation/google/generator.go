package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	genaiopt "google.golang.org/api/option"

	"docchat/internal/domain"
	"docchat/internal/generation"
)

const defaultModel = "gemini-1.5-flash"

type googleGenerator struct {
	options generation.Options
	client  *genai.Client
}

func (g *googleGenerator) Name() string { return "google:" + g.options.Model }

func (g *googleGenerator) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	system, rest := generation.SplitSystem(messages)
	if len(rest) == 0 {
		return "", errors.New("no user message")
	}

	model := g.client.GenerativeModel(g.options.Model)
	model.SetMaxOutputTokens(int32(g.options.MaxTokens))
	model.SetTemperature(g.options.Temperature)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	history, last := toContents(rest)
	cs := model.StartChat()
	cs.History = history

	rsp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", err
	}

	if len(rsp.Candidates) == 0 || rsp.Candidates[0].Content == nil || len(rsp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no response from Google")
	}

	var b strings.Builder
	for _, part := range rsp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	return b.String(), nil
}

// toContents maps all but the final message to chat history; the final
// message is the one sent.
func toContents(messages []domain.Message) ([]*genai.Content, string) {
	n := len(messages) - 1
	history := make([]*genai.Content, 0, n)
	for _, m := range messages[:n] {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history, messages[n].Content
}

// Close releases the underlying client.
func (g *googleGenerator) Close() error { return g.client.Close() }

func NewGenerator(ctx context.Context, opts ...generation.Option) (generation.Generator, error) {
	options := generation.NewOptions(opts...)
	if options.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key", domain.ErrGenerationUnavailable)
	}
	if options.Model == "" {
		options.Model = defaultModel
	}

	clientOpts := []genaiopt.ClientOption{genaiopt.WithAPIKey(options.APIKey)}
	if options.BaseURL != "" {
		clientOpts = append(clientOpts, genaiopt.WithEndpoint(options.BaseURL))
	}

	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google client: %w", err)
	}

	return &googleGenerator{
		options: options,
		client:  client,
	}, nil
}
