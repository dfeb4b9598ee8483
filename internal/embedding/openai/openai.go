package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	// Provider is "openai" (default, also any compatible server) or "azure".
	Provider   string
	BaseURL    string
	APIKeyEnv  string
	APIVersion string
	Model      string
	// Dimension, when set, is requested from the API and enforced;
	// otherwise it is learned by Probe.
	Dimension int
	Timeout   time.Duration
}

// Client is a remote embedder backed by an embeddings API.
type Client struct {
	client    *goopenai.Client
	model     string
	dimension int
	requested int
}

// NewClient creates a new embeddings client. It fails when the API key
// environment variable is empty, which is how credentials count as
// not configured.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = string(goopenai.SmallEmbedding3)
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}

	var cc goopenai.ClientConfig
	switch cfg.Provider {
	case "azure":
		if cfg.BaseURL == "" {
			return nil, errors.New("azure embeddings require base_url")
		}
		cc = goopenai.DefaultAzureConfig(key, cfg.BaseURL)
		if cfg.APIVersion != "" {
			cc.APIVersion = cfg.APIVersion
		}
	case "openai", "":
		cc = goopenai.DefaultConfig(key)
		if cfg.BaseURL != "" {
			cc.BaseURL = cfg.BaseURL
		}
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.Provider)
	}
	cc.HTTPClient = &http.Client{Timeout: t}

	return &Client{
		client:    goopenai.NewClientWithConfig(cc),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		requested: cfg.Dimension,
	}, nil
}

// Probe embeds a short text to verify the connection and, if no dimension
// was configured, to learn it.
func (c *Client) Probe(ctx context.Context) error {
	v, err := c.embed(ctx, []string{"test"})
	if err != nil {
		return err
	}
	if c.dimension == 0 {
		c.dimension = len(v[0])
	}
	return nil
}

func (c *Client) Name() string { return "openai:" + c.model }

func (c *Client) Dimension() int { return c.dimension }

func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts)
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.model),
	}
	if c.requested > 0 {
		req.Dimensions = c.requested
	}
	rsp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(rsp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: requested %d vectors, got %d", len(texts), len(rsp.Data))
	}
	data := rsp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, errors.New("empty embedding")
		}
		if c.dimension != 0 && len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("openai embeddings: dimension %d, expected %d", len(d.Embedding), c.dimension)
		}
		out[i] = d.Embedding
	}
	return out, nil
}
