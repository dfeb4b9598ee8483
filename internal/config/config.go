package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalEmbedderConfig points at a fitted TF-IDF model file.
type LocalEmbedderConfig struct {
	ModelPath string `yaml:"model_path"`
}

// RemoteEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type RemoteEmbedderConfig struct {
	Provider    string `yaml:"provider"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	APIVersion  string `yaml:"api_version,omitempty"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig lists embedder variants in the order they are tried.
type EmbedderConfig struct {
	Dimension int                  `yaml:"dimension"`
	Providers []string             `yaml:"providers"`
	Local     LocalEmbedderConfig  `yaml:"local"`
	Remote    RemoteEmbedderConfig `yaml:"remote"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	ChunkSize         int    `yaml:"chunk_size"`
	ChunkOverlap      int    `yaml:"chunk_overlap"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// IndexConfig locates the persisted index artifacts.
type IndexConfig struct {
	Dir          string `yaml:"dir"`
	VectorsFile  string `yaml:"vectors_file"`
	MetadataFile string `yaml:"metadata_file"`
}

// IngestConfig controls per-document digests shown after ingestion.
type IngestConfig struct {
	SummarySentences int `yaml:"summary_sentences"`
}

type ChatConfig struct {
	DefaultK      int      `yaml:"default_k"`
	HistoryWindow int      `yaml:"history_window"`
	MaxHistory    int      `yaml:"max_history"`
	MaxTokens     int      `yaml:"max_tokens"`
	Temperature   *float32 `yaml:"temperature"`
	TimeoutSecs   int      `yaml:"timeout_secs"`
}

// Timeout is the generation deadline.
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// GeneratorConfig selects the chat completion backend: none, local,
// openai, azure, anthropic or google.
type GeneratorConfig struct {
	Type       string `yaml:"type"`
	// MaxChunks is the number of chunks the local backend quotes.
	MaxChunks  int    `yaml:"max_chunks,omitempty"`
	APIKeyEnv  string `yaml:"api_key_env"`
	BaseURL    string `yaml:"base_url,omitempty"`
	APIVersion string `yaml:"api_version,omitempty"`
	Model      string `yaml:"model"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Index     IndexConfig     `yaml:"index"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Chat      ChatConfig      `yaml:"chat"`
	Generator GeneratorConfig `yaml:"generator"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/docchat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docchat", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	e := &cfg.Embedder
	if len(e.Providers) == 0 {
		e.Providers = []string{"local", "remote"}
	}
	if e.Local.ModelPath == "" {
		e.Local.ModelPath = filepath.Join("data", "tfidf.json")
	}
	if e.Remote.Provider == "" {
		e.Remote.Provider = "openai"
	}
	if e.Remote.APIKeyEnv == "" {
		e.Remote.APIKeyEnv = "OPENAI_API_KEY"
	}
	if e.Remote.Model == "" {
		e.Remote.Model = "text-embedding-3-small"
	}
	if e.Remote.TimeoutSecs == 0 {
		e.Remote.TimeoutSecs = 30
	}

	c := &cfg.Chunker
	if c.Type == "" {
		c.Type = "recursive"
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.SentencesPerChunk == 0 {
		c.SentencesPerChunk = 5
	}

	if cfg.Index.Dir == "" {
		cfg.Index.Dir = "data"
	}
	if cfg.Index.VectorsFile == "" {
		cfg.Index.VectorsFile = "vectors.bin"
	}
	if cfg.Index.MetadataFile == "" {
		cfg.Index.MetadataFile = "metadata.db"
	}

	ch := &cfg.Chat
	if ch.DefaultK == 0 {
		ch.DefaultK = 5
	}
	if ch.HistoryWindow == 0 {
		ch.HistoryWindow = 6
	}
	if ch.MaxHistory == 0 {
		ch.MaxHistory = 20
	}
	if ch.MaxTokens == 0 {
		ch.MaxTokens = 1000
	}
	// Temperature is a pointer so an explicit 0 survives.
	if ch.Temperature == nil {
		t := float32(0.7)
		ch.Temperature = &t
	}
	if ch.TimeoutSecs == 0 {
		ch.TimeoutSecs = 30
	}

	g := &cfg.Generator
	if g.Type == "" {
		g.Type = "none"
	}
	if g.APIKeyEnv == "" {
		switch g.Type {
		case "azure":
			g.APIKeyEnv = "AZURE_OPENAI_API_KEY"
		case "anthropic":
			g.APIKeyEnv = "ANTHROPIC_API_KEY"
		case "google":
			g.APIKeyEnv = "GOOGLE_API_KEY"
		default:
			g.APIKeyEnv = "OPENAI_API_KEY"
		}
	}

	if cfg.Log.Mode == "" {
		cfg.Log.Mode = "dev"
	}
}
