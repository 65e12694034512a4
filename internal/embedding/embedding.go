package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-chat/internal/config"
	"document-chat/internal/helper"
	"document-chat/internal/models"
)

// NewEmbedder builds the embedder selected by cfg.Provider and wraps it so
// that failures are retried and reported as models.ErrEmbeddingService.
func NewEmbedder(cfg *config.LLMConfig, retry config.RetryConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]any{
		"provider":   cfg.Provider,
		"base_url":   cfg.BaseURL,
		"model":      cfg.Model,
		"dimensions": cfg.Dimensions,
	}).Msg("Creating embedder")

	var (
		inner embeddings.Embedder
		err   error
	)
	switch cfg.Provider {
	case "hash", "":
		inner = NewHashEmbedder(cfg.Dimensions)
	case "ollama":
		inner, err = newOllamaEmbedder(cfg)
	case "openai":
		inner, err = newOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", models.ErrConfiguration, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
	}

	return WithRetry(inner, helper.RetryPolicy{
		MaxAttempts:  retry.MaxAttempts,
		InitialDelay: retry.InitialDelay,
		MaxDelay:     retry.MaxDelay,
	}), nil
}

func newOllamaEmbedder(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(false))
}

// OpenAI compatible endpoints, OpenRouter included
func newOpenAIEmbedder(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(false))
}

// EmbedChunks embeds texts batchSize at a time, keeping input order. progress,
// when set, is called after every batch with the number of texts done so far.
func EmbedChunks(ctx context.Context, embedder embeddings.Embedder, texts []string, batchSize int, progress func(done, total int)) ([][]float32, error) {
	if len(texts) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batch, err := embedder.EmbedDocuments(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks %d-%d: %w", i, end, err)
		}
		if len(batch) != end-i {
			return nil, fmt.Errorf("%w: got %d vectors for %d chunks", models.ErrEmbeddingService, len(batch), end-i)
		}
		vectors = append(vectors, batch...)
		if progress != nil {
			progress(end, len(texts))
		}
	}
	return vectors, nil
}
