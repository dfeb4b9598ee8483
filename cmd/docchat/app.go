package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"docchat/internal/chunker"
	"docchat/internal/config"
	"docchat/internal/conversation"
	"docchat/internal/domain"
	"docchat/internal/embedding"
	"docchat/internal/embedding/openai"
	"docchat/internal/embedding/tfidf"
	"docchat/internal/generation"
	anthropicgenerator "docchat/internal/generation/anthropic"
	googlegenerator "docchat/internal/generation/google"
	localgenerator "docchat/internal/generation/local"
	openaigenerator "docchat/internal/generation/openai"
	"docchat/internal/logger"
	"docchat/internal/service"
	"docchat/internal/summarizer"
	"docchat/internal/vectorindex"
	"docchat/internal/vectorindex/persist"
)

// app holds the assembled components for one command run.
type app struct {
	cfg       *config.AppConfig
	log       *logger.Logger
	index     *vectorindex.Index
	docs      *service.DocumentService
	chat      *service.ChatService
	generator generation.Generator
}

func newApp(ctx context.Context, cfg *config.AppConfig, log *logger.Logger) (*app, error) {
	ch, err := newChunker(cfg.Chunker)
	if err != nil {
		return nil, err
	}

	sel, err := selectEmbedder(ctx, cfg.Embedder, log)
	if err != nil {
		return nil, err
	}
	idx, err := vectorindex.Open(sel, vectorindex.Options{
		Store:     persist.New(cfg.Index.Dir, cfg.Index.VectorsFile, cfg.Index.MetadataFile),
		Dimension: cfg.Embedder.Dimension,
		Logger:    log.With("component", "index"),
	})
	if err != nil {
		return nil, err
	}

	gen, err := newGenerator(ctx, cfg.Generator, cfg.Chat)
	if err != nil {
		if !errors.Is(err, domain.ErrGenerationUnavailable) {
			return nil, err
		}
		log.Warn("chat generation disabled", "generator", cfg.Generator.Type, "error", err)
		gen = nil
	}

	chat := service.NewChatService(idx, gen, conversation.NewStore(cfg.Chat.MaxHistory), service.ChatConfig{
		DefaultK:      cfg.Chat.DefaultK,
		HistoryWindow: cfg.Chat.HistoryWindow,
		Timeout:       cfg.Chat.Timeout(),
	}, log.With("component", "chat"))

	docs := service.NewDocumentService(idx, ch, summarizer.NewFrequency(), cfg.Ingest.SummarySentences, log.With("component", "documents"))

	return &app{cfg: cfg, log: log, index: idx, docs: docs, chat: chat, generator: gen}, nil
}

func (a *app) Close() {
	if c, ok := a.generator.(io.Closer); ok {
		_ = c.Close()
	}
	a.log.Sync()
}

func newChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "recursive", "":
		return chunker.NewRecursiveChunker(cfg.ChunkSize, cfg.ChunkOverlap), nil
	case "sentence":
		return chunker.NewSentenceChunker(cfg.SentencesPerChunk, cfg.OverlapSentences), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Type)
	}
}

// selectEmbedder tries the configured providers in order. Running without
// any embedder is allowed; an unknown provider name is not.
func selectEmbedder(ctx context.Context, cfg config.EmbedderConfig, log *logger.Logger) (embedding.Selection, error) {
	var providers []embedding.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "local":
			path := cfg.Local.ModelPath
			providers = append(providers, embedding.Provider{
				Kind: embedding.KindLocal,
				Open: func(ctx context.Context) (embedding.Embedder, error) {
					emb, err := tfidf.Load(path)
					if err != nil {
						return nil, err
					}
					return emb, nil
				},
			})
		case "remote":
			rc := cfg.Remote
			providers = append(providers, embedding.Provider{
				Kind: embedding.KindRemote,
				Open: func(ctx context.Context) (embedding.Embedder, error) {
					client, err := openai.NewClient(openai.Config{
						Provider:   rc.Provider,
						BaseURL:    rc.BaseURL,
						APIKeyEnv:  rc.APIKeyEnv,
						APIVersion: rc.APIVersion,
						Model:      rc.Model,
						Dimension:  cfg.Dimension,
						Timeout:    time.Duration(rc.TimeoutSecs) * time.Second,
					})
					if err != nil {
						return nil, err
					}
					if err := client.Probe(ctx); err != nil {
						return nil, err
					}
					return client, nil
				},
			})
		default:
			return embedding.Selection{}, fmt.Errorf("unknown embedder provider: %s", name)
		}
	}
	return embedding.Select(ctx, log.With("component", "embedder"), providers...), nil
}

// newGenerator builds the configured backend. Missing credentials are
// reported as domain.ErrGenerationUnavailable.
func newGenerator(ctx context.Context, cfg config.GeneratorConfig, chat config.ChatConfig) (generation.Generator, error) {
	opts := []generation.Option{
		generation.WithAPIKey(os.Getenv(cfg.APIKeyEnv)),
		generation.WithModel(cfg.Model),
		generation.WithBaseURL(cfg.BaseURL),
		generation.WithAPIVersion(cfg.APIVersion),
		generation.WithMaxTokens(chat.MaxTokens),
	}
	if chat.Temperature != nil {
		opts = append(opts, generation.WithTemperature(*chat.Temperature))
	}
	switch cfg.Type {
	case "none", "":
		return nil, fmt.Errorf("%w: generator type is none", domain.ErrGenerationUnavailable)
	case "local":
		return localgenerator.NewGenerator(cfg.MaxChunks), nil
	case "openai", "azure":
		return openaigenerator.NewGenerator(cfg.Type, opts...)
	case "anthropic":
		return anthropicgenerator.NewGenerator(opts...)
	case "google":
		return googlegenerator.NewGenerator(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Type)
	}
}
