package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"docchat/internal/domain"
	"docchat/internal/generation"
)

const defaultModel = "claude-3-5-haiku-latest"

type anthropicGenerator struct {
	options generation.Options
	client  *anthropic.Client
}

func (g *anthropicGenerator) Name() string { return "anthropic:" + g.options.Model }

func (g *anthropicGenerator) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	system, rest := generation.SplitSystem(messages)

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.options.Model),
		MaxTokens:   int64(g.options.MaxTokens),
		Temperature: anthropic.Float(float64(g.options.Temperature)),
		Messages:    toMessageParams(rest),
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}

	rsp, err := g.client.Messages.New(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}

	result := b.String()
	if len(result) == 0 {
		return "", errors.New("no response from Anthropic")
	}

	return result, nil
}

func toMessageParams(messages []domain.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == domain.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

func NewGenerator(opts ...generation.Option) (generation.Generator, error) {
	options := generation.NewOptions(opts...)
	if options.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key", domain.ErrGenerationUnavailable)
	}
	if options.Model == "" {
		options.Model = defaultModel
	}

	clientOpts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(options.APIKey),
		anthropicopt.WithMaxRetries(0),
	}
	if options.BaseURL != "" {
		clientOpts = append(clientOpts, anthropicopt.WithBaseURL(options.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &anthropicGenerator{
		options: options,
		client:  &client,
	}, nil
}
