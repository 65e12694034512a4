package models

import "errors"

var (
	ErrConfiguration    = errors.New("invalid configuration")
	ErrEmptyCorpus      = errors.New("no extractable text in documents")
	ErrEmbeddingService = errors.New("embedding service failure")
	ErrGeneration       = errors.New("generation failure")
	ErrRetrieval        = errors.New("no documents processed")
)
