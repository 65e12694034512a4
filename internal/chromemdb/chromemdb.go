package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-chat/internal/models"
)

const positionKey = "position"

// Index is a rebuild-only vector index over one set of chunks. It wraps an
// in-memory chromem collection that nothing else shares.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	dims       int
}

// Match is a chunk returned by Query
type Match struct {
	Position int
	Text     string
	Score    float32
}

// Build creates a fresh index holding texts[i] with vectors[i] at position i.
func Build(ctx context.Context, collectionName string, texts []string, vectors [][]float32) (*Index, error) {
	if len(texts) == 0 {
		return nil, models.ErrEmptyCorpus
	}
	if len(texts) != len(vectors) {
		return nil, fmt.Errorf("texts and vectors length mismatch: %d != %d", len(texts), len(vectors))
	}
	dims := len(vectors[0])
	if dims == 0 {
		return nil, fmt.Errorf("%w: empty vector at position 0", models.ErrEmbeddingService)
	}

	docs := make([]chromem.Document, len(texts))
	for i := range texts {
		if len(vectors[i]) != dims {
			return nil, fmt.Errorf("%w: inconsistent vector dims %d vs %d at position %d", models.ErrEmbeddingService, len(vectors[i]), dims, i)
		}
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   texts[i],
			Metadata:  map[string]string{positionKey: strconv.Itoa(i)},
			Embedding: vectors[i],
		}
	}

	db := chromem.NewDB()
	// embeddings are always supplied, the embedding func is never called
	c, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}

	log.Info().Str("collection", collectionName).Int("chunks", len(docs)).Int("dims", dims).Msg("Built vector index")
	return &Index{db: db, collection: c, dims: dims}, nil
}

// Len returns the number of chunks in the index
func (i *Index) Len() int {
	return i.collection.Count()
}

func (i *Index) Dimensions() int {
	return i.dims
}

// Query returns the k chunks most similar to vector, best first. k <= 0 or
// k larger than the index returns every chunk.
func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) != i.dims {
		return nil, fmt.Errorf("query dim %d != index dim %d", len(vector), i.dims)
	}
	n := i.Len()
	if k <= 0 || k > n {
		k = n
	}

	results, err := i.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	matches := make([]Match, len(results))
	for j, r := range results {
		pos, err := strconv.Atoi(r.Metadata[positionKey])
		if err != nil {
			return nil, fmt.Errorf("bad position metadata on %s: %w", r.ID, err)
		}
		matches[j] = Match{Position: pos, Text: r.Content, Score: r.Similarity}
	}
	return matches, nil
}
