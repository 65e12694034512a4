package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-chat/internal/config"
	"document-chat/internal/helper"
	"document-chat/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

var errNoChoices = errors.New("response has no choices")

// NewModel builds the language model selected by cfg.Provider
func NewModel(cfg *config.LLMConfig) (llms.Model, error) {
	log.Debug().Interface("config", map[string]any{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating language model")

	switch cfg.Provider {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, err
		}
		return llm, nil
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, err
		}
		return llm, nil
	case "huggingface":
		opts := []huggingface.Option{
			huggingface.WithToken(cfg.Key),
			huggingface.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, huggingface.WithURL(cfg.BaseURL))
		}
		llm, err := huggingface.New(opts...)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: unsupported inference provider %q", models.ErrConfiguration, cfg.Provider)
	}
}

// Generator sends single prompts to a model with fixed sampling options.
type Generator struct {
	model  llms.Model
	opts   []llms.CallOption
	policy helper.RetryPolicy
}

func NewGenerator(model llms.Model, cfg *config.LLMConfig, retry config.RetryConfig) *Generator {
	return &Generator{
		model: model,
		opts: []llms.CallOption{
			llms.WithTemperature(cfg.Temperature),
			llms.WithMaxTokens(cfg.MaxLength),
			llms.WithMaxLength(cfg.MaxLength),
		},
		policy: helper.RetryPolicy{
			MaxAttempts:  retry.MaxAttempts,
			InitialDelay: retry.InitialDelay,
			MaxDelay:     retry.MaxDelay,
		},
	}
}

// Generate sends prompt as a single human message and returns the first
// choice with any <think> block removed. Failures wrap models.ErrGeneration.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var answer string
	err := helper.Retry(ctx, g.policy, "generate", func() error {
		res, err := g.model.GenerateContent(ctx, msgContent, g.opts...)
		if err != nil {
			return err
		}
		if res == nil || len(res.Choices) == 0 {
			return errNoChoices
		}
		answer = res.Choices[0].Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	return strings.TrimSpace(thinkRe.ReplaceAllString(answer, "")), nil
}
