package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"document-chat/internal/chromemdb"
	"document-chat/internal/config"
	"document-chat/internal/embedding"
	"document-chat/internal/llmservice"
	"document-chat/internal/models"
	"document-chat/internal/parser"
	"document-chat/internal/session"
)

// TokenCounter is satisfied by *llmservice.TokenCounter
type TokenCounter interface {
	Count(text string) int
}

type Option func(*Engine)

// WithProgress reports embedding progress while documents are processed.
func WithProgress(fn func(done, total int)) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithTokenCounter logs the token size of every prompt sent to the model.
func WithTokenCounter(tc TokenCounter) Option {
	return func(e *Engine) { e.tokens = tc }
}

// Engine runs the retrieval augmented conversation over a session.State.
// It holds no per-session data itself.
type Engine struct {
	cfg       *config.RAGConfig
	split     parser.SplitOptions
	embedder  embeddings.Embedder
	generator *llmservice.Generator
	progress  func(done, total int)
	tokens    TokenCounter
}

func NewEngine(cfg *config.Config, embedder embeddings.Embedder, llm llms.Model, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg: &cfg.RAG,
		split: parser.SplitOptions{
			Size:      cfg.RAG.ChunkSize,
			Overlap:   cfg.RAG.ChunkOverlap,
			Separator: cfg.RAG.Separator,
		},
		embedder:  embedder,
		generator: llmservice.NewGenerator(llm, &cfg.InferenceLLM, cfg.Retry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Chunks splits text with the document chunking options.
func (e *Engine) Chunks(text string) ([]string, error) {
	return parser.SplitText(text, e.split)
}

// ProcessDocuments extracts the text of docs and indexes it, see Process.
func (e *Engine) ProcessDocuments(ctx context.Context, s *session.State, docs []models.Document) (int, error) {
	rawText, err := parser.ExtractText(docs)
	if err != nil {
		return 0, err
	}
	return e.Process(ctx, s, rawText)
}

// Process chunks and embeds rawText and installs the result as the session's
// index, replacing any previous one. The chat history is left as is. It
// returns the number of chunks indexed.
func (e *Engine) Process(ctx context.Context, s *session.State, rawText string) (int, error) {
	if strings.TrimSpace(rawText) == "" {
		return 0, models.ErrEmptyCorpus
	}
	chunks, err := e.Chunks(rawText)
	if err != nil {
		return 0, err
	}

	vectors, err := embedding.EmbedChunks(ctx, e.embedder, chunks, e.cfg.BatchSize, e.progress)
	if err != nil {
		return 0, err
	}

	idx, err := chromemdb.Build(ctx, e.cfg.CollectionName, chunks, vectors)
	if err != nil {
		return 0, err
	}
	s.SetIndex(idx)

	log.Info().Str("session", s.ID).Int("chunks", len(chunks)).Msg("Processed documents")
	return len(chunks), nil
}

// Ask answers question against the session's index. When question splitting
// is on, the question is chunked like a document and each piece is answered
// in turn; every exchange is committed to the history before the next piece is
// asked, so later pieces see earlier answers.
//
// On failure the responses completed so far are returned together with the
// error, and their history entries stay committed.
func (e *Engine) Ask(ctx context.Context, s *session.State, question string) ([]models.Response, error) {
	idx := s.Index()
	if idx == nil {
		return nil, models.ErrRetrieval
	}
	if strings.TrimSpace(question) == "" {
		return nil, nil
	}

	pieces := []string{question}
	if e.cfg.SplitQuestionsEnabled() {
		var err error
		if pieces, err = e.Chunks(question); err != nil {
			return nil, err
		}
	}

	s.BeginAnswer()
	defer s.EndAnswer()

	responses := make([]models.Response, 0, len(pieces))
	for i, piece := range pieces {
		resp, err := e.answer(ctx, s, idx, piece)
		if err != nil {
			log.Error().Err(err).Str("session", s.ID).Int("piece", i).Int("pieces", len(pieces)).Msg("Question failed")
			return responses, err
		}
		responses = append(responses, *resp)
	}
	return responses, nil
}

func (e *Engine) answer(ctx context.Context, s *session.State, idx *chromemdb.Index, question string) (*models.Response, error) {
	history, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	historyText, err := llms.GetBufferString(history, models.HumanPrefix, models.AIPrefix)
	if err != nil {
		return nil, err
	}

	standalone := question
	if e.cfg.CondenseQuestion && len(history) > 0 {
		prompt := fmt.Sprintf(models.CondensePromptTemplate, historyText, question)
		e.logPrompt("condense", prompt)
		if standalone, err = e.generator.Generate(ctx, prompt); err != nil {
			return nil, err
		}
		log.Debug().Str("question", question).Str("standalone", standalone).Msg("Condensed question")
	}

	queryVector, err := e.embedder.EmbedQuery(ctx, standalone)
	if err != nil {
		return nil, err
	}
	matches, err := idx.Query(ctx, queryVector, e.cfg.RetrievalK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrRetrieval, err)
	}

	sources := make([]models.Source, len(matches))
	contexts := make([]string, len(matches))
	for i, m := range matches {
		sources[i] = models.Source{Position: m.Position, Content: m.Text, Score: m.Score}
		contexts[i] = m.Text
	}

	prompt := fmt.Sprintf(models.QAPromptTemplate, strings.Join(contexts, models.ContextSeparator), historyText, standalone)
	e.logPrompt("answer", prompt)
	answer, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	if err := s.AppendHistory(ctx,
		llms.HumanChatMessage{Content: question},
		llms.AIChatMessage{Content: answer},
	); err != nil {
		return nil, err
	}
	snapshot, err := s.History(ctx)
	if err != nil {
		return nil, err
	}

	return &models.Response{
		Question:           question,
		StandaloneQuestion: standalone,
		Answer:             answer,
		Sources:            sources,
		ChatHistory:        snapshot,
	}, nil
}

func (e *Engine) logPrompt(kind, prompt string) {
	ev := log.Debug().Str("kind", kind).Int("chars", len(prompt))
	if e.tokens != nil && ev.Enabled() {
		ev = ev.Int("tokens", e.tokens.Count(prompt))
	}
	ev.Msg("Prompt")
}

// Render flattens the history snapshots of responses for display. Within each
// snapshot, even positions are the user and odd positions the assistant.
func Render(responses []models.Response) []models.Message {
	var out []models.Message
	for _, r := range responses {
		for i, m := range r.ChatHistory {
			role := models.RoleUser
			if i%2 == 1 {
				role = models.RoleAssistant
			}
			out = append(out, models.Message{Role: role, Text: m.GetContent()})
		}
	}
	return out
}

// IsUserError reports whether err comes from the input rather than from a
// backend, so retrying the same action cannot help.
func IsUserError(err error) bool {
	return errors.Is(err, models.ErrConfiguration) ||
		errors.Is(err, models.ErrEmptyCorpus) ||
		errors.Is(err, models.ErrRetrieval)
}
