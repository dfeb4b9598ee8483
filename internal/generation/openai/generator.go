package openai

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"

	"docchat/internal/domain"
	"docchat/internal/generation"
)

const defaultModel = openai.GPT4oMini

type openAIGenerator struct {
	options generation.Options
	client  *openai.Client
}

func (g *openAIGenerator) Name() string { return "openai:" + g.options.Model }

func (g *openAIGenerator) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.options.Model,
		Messages:    toChatMessages(messages),
		MaxTokens:   g.options.MaxTokens,
		Temperature: g.options.Temperature,
	}
	// The request omits a zero temperature, which the API reads as 1.
	if req.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}

	rsp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(rsp.Choices) == 0 || len(rsp.Choices[0].Message.Content) == 0 {
		return "", errors.New("no response from OpenAI")
	}

	return rsp.Choices[0].Message.Content, nil
}

func toChatMessages(messages []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case domain.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case domain.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// NewGenerator builds a chat completions generator. provider is "openai"
// (any compatible server via BaseURL) or "azure", where BaseURL is the
// resource endpoint and Model the deployment name.
func NewGenerator(provider string, opts ...generation.Option) (generation.Generator, error) {
	options := generation.NewOptions(opts...)
	if options.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key", domain.ErrGenerationUnavailable)
	}
	if options.Model == "" {
		options.Model = defaultModel
	}

	var cfg openai.ClientConfig
	switch provider {
	case "azure":
		if options.BaseURL == "" {
			return nil, fmt.Errorf("%w: azure requires base_url", domain.ErrGenerationUnavailable)
		}
		cfg = openai.DefaultAzureConfig(options.APIKey, options.BaseURL)
		if options.APIVersion != "" {
			cfg.APIVersion = options.APIVersion
		}
	case "openai", "":
		cfg = openai.DefaultConfig(options.APIKey)
		if options.BaseURL != "" {
			cfg.BaseURL = options.BaseURL
		}
	default:
		return nil, fmt.Errorf("unknown openai provider: %s", provider)
	}

	return &openAIGenerator{
		options: options,
		client:  openai.NewClientWithConfig(cfg),
	}, nil
}
