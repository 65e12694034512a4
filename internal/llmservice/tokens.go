package llmservice

import (
	"github.com/pkoukk/tiktoken-go"
)

const tokenEncodingModel = "gpt-3.5-turbo"

// TokenCounter estimates prompt sizes. The count is approximate for non
// OpenAI models.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the BPE ranks, which may require network access on
// first use.
func NewTokenCounter() (*TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(tokenEncodingModel)
	if err != nil {
		return nil, err
	}
	return &TokenCounter{enc: enc}, nil
}

func (c *TokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
