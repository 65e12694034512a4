package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"

	"document-chat/internal/helper"
	"document-chat/internal/models"
)

var errMalformed = errors.New("malformed embedding response")

type retryingEmbedder struct {
	inner  embeddings.Embedder
	policy helper.RetryPolicy
}

// WithRetry retries failed and malformed calls to inner according to policy.
// Errors that survive the retries wrap models.ErrEmbeddingService.
func WithRetry(inner embeddings.Embedder, policy helper.RetryPolicy) embeddings.Embedder {
	return &retryingEmbedder{inner: inner, policy: policy}
}

func (r *retryingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := helper.Retry(ctx, r.policy, "embed query", func() error {
		v, err := r.inner.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return errMalformed
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
	}
	return vec, nil
}

func (r *retryingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := helper.Retry(ctx, r.policy, "embed documents", func() error {
		v, err := r.inner.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("%w: %d vectors for %d texts", errMalformed, len(v), len(texts))
		}
		for _, vec := range v {
			if len(vec) == 0 {
				return errMalformed
			}
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
	}
	return vecs, nil
}
