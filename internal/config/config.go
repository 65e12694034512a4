package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"document-chat/internal/models"
)

const (
	DefaultChunkSize      = 512
	DefaultChunkOverlap   = 100
	DefaultSeparator      = "\n"
	DefaultRetrievalK     = 4
	DefaultBatchSize      = 16
	DefaultCollectionName = "documents"
	DefaultDimensions     = 384
	DefaultTemperature    = 0.5
	DefaultMaxLength      = 128
	DefaultMaxAttempts    = 3
	DefaultInitialDelay   = 500 * time.Millisecond
	DefaultMaxDelay       = 5 * time.Second
)

type Config struct {
	RAG          RAGConfig   `yaml:"rag"`
	EmbedLLM     LLMConfig   `yaml:"embed_llm"`
	InferenceLLM LLMConfig   `yaml:"inference_llm"`
	Retry        RetryConfig `yaml:"retry"`
	Log          LogConfig   `yaml:"log"`
}

type RAGConfig struct {
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	Separator        string `yaml:"separator"`
	RetrievalK       int    `yaml:"retrieval_k"`
	SplitQuestions   *bool  `yaml:"split_questions"`
	CondenseQuestion bool   `yaml:"condense_question"`
	BatchSize        int    `yaml:"batch_size"`
	CollectionName   string `yaml:"collection_name"`
}

// LLMConfig describes either the embedding backend or the inference backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Dimensions  int     `yaml:"dimensions"`
	Temperature float64 `yaml:"temperature"`
	MaxLength   int     `yaml:"max_length"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type LogConfig struct {
	Level        string `yaml:"level"`
	PromptTokens bool   `yaml:"prompt_tokens"`
}

// LoadConfig reads the YAML file at path, expands ${VAR} references from the
// environment and fills unset values with defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config that runs fully offline with the hashing embedder.
func Default() *Config {
	cfg := &Config{
		EmbedLLM:     LLMConfig{Provider: "hash"},
		InferenceLLM: LLMConfig{Provider: "ollama", BaseURL: "http://localhost:11434", Model: "llama3.2"},
		Log:          LogConfig{Level: "info"},
	}
	ApplyDefaults(cfg)
	return cfg
}

func ApplyDefaults(cfg *Config) {
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = DefaultChunkSize
		if cfg.RAG.ChunkOverlap == 0 {
			cfg.RAG.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if cfg.RAG.Separator == "" {
		cfg.RAG.Separator = DefaultSeparator
	}
	if cfg.RAG.RetrievalK == 0 {
		cfg.RAG.RetrievalK = DefaultRetrievalK
	}
	if cfg.RAG.SplitQuestions == nil {
		split := true
		cfg.RAG.SplitQuestions = &split
	}
	if cfg.RAG.BatchSize <= 0 {
		cfg.RAG.BatchSize = DefaultBatchSize
	}
	if cfg.RAG.CollectionName == "" {
		cfg.RAG.CollectionName = DefaultCollectionName
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "hash"
	}
	if cfg.EmbedLLM.Provider == "hash" && cfg.EmbedLLM.Dimensions == 0 {
		cfg.EmbedLLM.Dimensions = DefaultDimensions
	}

	if cfg.InferenceLLM.Provider == "" {
		cfg.InferenceLLM.Provider = "ollama"
	}
	if cfg.InferenceLLM.Temperature == 0 {
		cfg.InferenceLLM.Temperature = DefaultTemperature
	}
	if cfg.InferenceLLM.MaxLength == 0 {
		cfg.InferenceLLM.MaxLength = DefaultMaxLength
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = DefaultInitialDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = DefaultMaxDelay
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// SplitQuestionsEnabled reports whether long questions are answered chunk by chunk.
func (c *RAGConfig) SplitQuestionsEnabled() bool {
	return c.SplitQuestions == nil || *c.SplitQuestions
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", models.ErrConfiguration, c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, %d), got %d", models.ErrConfiguration, c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.RetrievalK <= 0 {
		return fmt.Errorf("%w: retrieval_k must be positive, got %d", models.ErrConfiguration, c.RAG.RetrievalK)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be at least 1, got %d", models.ErrConfiguration, c.Retry.MaxAttempts)
	}
	switch c.EmbedLLM.Provider {
	case "hash", "ollama", "openai":
	default:
		return fmt.Errorf("%w: unsupported embedding provider %q", models.ErrConfiguration, c.EmbedLLM.Provider)
	}
	switch c.InferenceLLM.Provider {
	case "ollama", "openai", "huggingface":
	default:
		return fmt.Errorf("%w: unsupported inference provider %q", models.ErrConfiguration, c.InferenceLLM.Provider)
	}
	return nil
}
