package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimensions = 384

// HashEmbedder maps text to a fixed size vector by feature hashing word
// unigrams and character trigrams. It is a pure function of the text and
// needs no model, which makes retrieval reproducible offline.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

func (h *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	acc := make([]float64, h.dims)
	lower := strings.ToLower(text)

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h.add(acc, "w:"+w, 1)
	}

	// padded so that even a one character text has a feature
	runes := []rune(" " + lower + " ")
	if len(runes) < 3 {
		h.add(acc, "c:"+string(runes), 0.5)
	}
	for i := 0; i+3 <= len(runes); i++ {
		h.add(acc, "c:"+string(runes[i:i+3]), 0.5)
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	vec := make([]float32, h.dims)
	for i, v := range acc {
		if norm > 0 {
			vec[i] = float32(v / norm)
		}
	}
	return vec
}

func (h *HashEmbedder) add(acc []float64, feature string, weight float64) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}
