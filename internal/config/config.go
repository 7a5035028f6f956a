package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// ProviderConfig configures the embedding/completion provider.
type ProviderConfig struct {
	Type           string        `yaml:"type"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	APIKeyHeader   string        `yaml:"api_key_header"`
	ChatModel      string        `yaml:"chat_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Temperature    float32       `yaml:"temperature"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	EmbedBatchSize int           `yaml:"embed_batch_size"`
}

// ChunkerConfig is consumed at ingestion time only.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// IndexConfig locates the persisted document index and the ingestion embedding cache.
type IndexConfig struct {
	Path      string `yaml:"path"`
	CachePath string `yaml:"cache_path"`
}

// RetrievalConfig configures the retrieval stage.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	MaxConnections    int           `yaml:"max_connections"`
	BatchConcurrency  int           `yaml:"batch_concurrency"`
	RateLimitInterval time.Duration `yaml:"rate_limit_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// IngestConfig configures the offline ingestion job.
type IngestConfig struct {
	URLs          []string      `yaml:"urls"`
	AllowedDomain string        `yaml:"allowed_domain"`
	ContentQuery  string        `yaml:"content_selector"`
	RequestDelay  time.Duration `yaml:"request_delay"`
	Concurrency   int           `yaml:"concurrency"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BotConfig configures the Telegram front end.
type BotConfig struct {
	Token             string        `yaml:"token"`
	RateLimitInterval time.Duration `yaml:"rate_limit_interval"`
}

// AppConfig is the root configuration.
type AppConfig struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Log       LogConfig       `yaml:"log"`
	Bot       BotConfig       `yaml:"bot"`
}

// Load reads the config at path, applies defaults and env overrides.
// An empty path tries ./config.yaml; a missing file yields the defaults.
func Load(path string) (*AppConfig, error) {
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the reference configuration.
func Default() *AppConfig {
	return &AppConfig{
		Provider: ProviderConfig{
			Type:           ProviderOpenAI,
			BaseURL:        "https://gateway.salesforceresearch.ai/openai/process/v1",
			APIKeyEnv:      "X_API_KEY",
			APIKeyHeader:   "X-Api-Key",
			ChatModel:      "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.3,
			Timeout:        60 * time.Second,
			MaxRetries:     2,
			EmbedBatchSize: 64,
		},
		Chunker: ChunkerConfig{ChunkSize: 512, ChunkOverlap: 100},
		Index: IndexConfig{
			Path:      "faiss_langsmith_index",
			CachePath: "cache/embeddings",
		},
		Retrieval: RetrievalConfig{TopK: 3},
		Server: ServerConfig{
			ListenAddr:       ":8000",
			MaxConnections:   256,
			BatchConcurrency: 4,
			ShutdownTimeout:  10 * time.Second,
		},
		Ingest: IngestConfig{
			URLs:          append([]string(nil), LangSmithDocURLs...),
			AllowedDomain: "docs.langchain.com",
			ContentQuery:  "main",
			RequestDelay:  500 * time.Millisecond,
			Concurrency:   4,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Bot: BotConfig{RateLimitInterval: 10 * time.Second},
	}
}

// Validate checks the settings every entry point depends on.
func (c *AppConfig) Validate() error {
	switch c.Provider.Type {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown provider type %q", c.Provider.Type)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunker.chunk_overlap (%d) must be smaller than chunk_size (%d)", c.Chunker.ChunkOverlap, c.Chunker.ChunkSize)
	}
	if c.Index.Path == "" {
		return errors.New("index.path is required")
	}
	return nil
}

// RequireCredential fails when the provider needs a credential and none is configured.
func (c *AppConfig) RequireCredential() error {
	if c.Provider.Type == ProviderOpenAI && c.Provider.APIKey == "" {
		return fmt.Errorf("%s environment variable not set", c.Provider.APIKeyEnv)
	}
	return nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.Provider.Type = strings.ToLower(v)
	}
	if v := os.Getenv("LLM_API_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Provider.ChatModel = v
	}
	if v := os.Getenv("LLM_EMBEDDINGS_MODEL"); v != "" {
		cfg.Provider.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Provider.Timeout = d
		}
	}
	if v := os.Getenv("RETRIEVAL_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = k
		}
	}
	if v := os.Getenv("INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
	if cfg.Provider.APIKey == "" && cfg.Provider.APIKeyEnv != "" {
		cfg.Provider.APIKey = os.Getenv(cfg.Provider.APIKeyEnv)
	}
}

func applyDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Provider.Type == ProviderOllama && cfg.Provider.BaseURL == def.Provider.BaseURL {
		cfg.Provider.BaseURL = "http://localhost:11434"
	}
	if cfg.Provider.Timeout <= 0 {
		cfg.Provider.Timeout = def.Provider.Timeout
	}
	if cfg.Provider.MaxRetries < 0 {
		cfg.Provider.MaxRetries = 0
	}
	if cfg.Provider.EmbedBatchSize <= 0 {
		cfg.Provider.EmbedBatchSize = def.Provider.EmbedBatchSize
	}
	if cfg.Provider.APIKeyHeader == "" {
		cfg.Provider.APIKeyHeader = def.Provider.APIKeyHeader
	}
	if cfg.Chunker.ChunkSize <= 0 {
		cfg.Chunker.ChunkSize = def.Chunker.ChunkSize
	}
	if cfg.Chunker.ChunkOverlap < 0 {
		cfg.Chunker.ChunkOverlap = 0
	}
	if cfg.Server.BatchConcurrency <= 0 {
		cfg.Server.BatchConcurrency = def.Server.BatchConcurrency
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Ingest.Concurrency <= 0 {
		cfg.Ingest.Concurrency = def.Ingest.Concurrency
	}
	if len(cfg.Ingest.URLs) == 0 {
		cfg.Ingest.URLs = def.Ingest.URLs
	}
}
