package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"

	"document-chat/internal/config"
	"document-chat/internal/embedding"
	"document-chat/internal/models"
	"document-chat/internal/session"
)

const parisText = "Paris is the capital of France.\nIt has a population of 2 million."

// stubModel answers "answer N" to the N-th prompt and records every prompt.
type stubModel struct {
	prompts []string
	failAt  int // 1-based call number that fails, 0 never
}

func (m *stubModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var b strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				b.WriteString(tc.Text)
			}
		}
	}
	m.prompts = append(m.prompts, b.String())
	n := len(m.prompts)
	if m.failAt == n {
		return nil, errors.New("model overloaded")
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: fmt.Sprintf("answer %d", n)}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Retry = config.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, model llms.Model) (*Engine, *session.State) {
	t.Helper()
	e, err := NewEngine(cfg, embedding.NewHashEmbedder(128), model)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	s, err := session.New()
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	return e, s
}

func historyLen(t *testing.T, s *session.State) int {
	t.Helper()
	h, err := s.History(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return len(h)
}

func TestNewEngineRejectsBadChunking(t *testing.T) {
	cfg := testConfig()
	cfg.RAG.ChunkOverlap = cfg.RAG.ChunkSize
	_, err := NewEngine(cfg, embedding.NewHashEmbedder(8), &stubModel{})
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("NewEngine() error = %v, want ErrConfiguration", err)
	}
}

func TestAskBeforeProcess(t *testing.T) {
	model := &stubModel{}
	e, s := newTestEngine(t, testConfig(), model)

	_, err := e.Ask(context.Background(), s, "What is the capital of France?")
	if !errors.Is(err, models.ErrRetrieval) {
		t.Fatalf("Ask() error = %v, want ErrRetrieval", err)
	}
	if historyLen(t, s) != 0 || len(model.prompts) != 0 {
		t.Fatal("a failed ask must not touch history or the model")
	}
	if s.Phase() != session.Uninitialized {
		t.Fatalf("phase = %v, want uninitialized", s.Phase())
	}
}

func TestProcessEmptyCorpus(t *testing.T) {
	e, s := newTestEngine(t, testConfig(), &stubModel{})
	for _, text := range []string{"", "  \n\t "} {
		if _, err := e.Process(context.Background(), s, text); !errors.Is(err, models.ErrEmptyCorpus) {
			t.Fatalf("Process(%q) error = %v, want ErrEmptyCorpus", text, err)
		}
	}
	if s.Index() != nil {
		t.Fatal("a failed process must not install an index")
	}
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	model := &stubModel{}
	e, s := newTestEngine(t, testConfig(), model)

	n, err := e.ProcessDocuments(ctx, s, []models.Document{{Name: "france.txt", Data: []byte(parisText)}})
	if err != nil {
		t.Fatalf("ProcessDocuments() error = %v", err)
	}
	if n != 1 || s.Phase() != session.Ready {
		t.Fatalf("chunks = %d phase = %v, want 1 chunk and ready", n, s.Phase())
	}

	responses, err := e.Ask(ctx, s, "What is the capital of France?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	r := responses[0]
	if len(r.Sources) != 1 || r.Sources[0].Content != parisText {
		t.Fatalf("sources = %+v, want the Paris chunk", r.Sources)
	}
	if r.Answer != "answer 1" {
		t.Errorf("answer = %q", r.Answer)
	}
	if !strings.Contains(model.prompts[0], parisText) || !strings.Contains(model.prompts[0], "What is the capital of France?") {
		t.Errorf("prompt lacks context or question:\n%s", model.prompts[0])
	}
	if historyLen(t, s) != 2 {
		t.Fatalf("history len = %d, want 2", historyLen(t, s))
	}

	rendered := Render(responses)
	if len(rendered) != 2 {
		t.Fatalf("rendered %d messages, want 2", len(rendered))
	}
	if rendered[0].Role != models.RoleUser || rendered[0].Text != "What is the capital of France?" {
		t.Errorf("rendered[0] = %+v", rendered[0])
	}
	if rendered[1].Role != models.RoleAssistant || rendered[1].Text != "answer 1" {
		t.Errorf("rendered[1] = %+v", rendered[1])
	}
	if s.Phase() != session.Ready {
		t.Errorf("phase after ask = %v, want ready", s.Phase())
	}
}

func TestReprocessKeepsHistory(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, testConfig(), &stubModel{})

	if _, err := e.Process(ctx, s, parisText); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ask(ctx, s, "What is the capital of France?"); err != nil {
		t.Fatal(err)
	}
	before := historyLen(t, s)
	oldIndex := s.Index()

	if _, err := e.Process(ctx, s, "Berlin is the capital of Germany."); err != nil {
		t.Fatal(err)
	}
	if s.Index() == oldIndex {
		t.Fatal("process should install a new index")
	}
	if after := historyLen(t, s); after != before {
		t.Fatalf("history len = %d after reprocess, want %d", after, before)
	}

	responses, err := e.Ask(ctx, s, "And Germany?")
	if err != nil {
		t.Fatal(err)
	}
	if got := responses[0].Sources[0].Content; got != "Berlin is the capital of Germany." {
		t.Fatalf("retrieved %q from the old index", got)
	}
	// the snapshot carries the earlier exchange too
	if len(Render(responses)) != 4 {
		t.Fatalf("rendered %d messages, want 4", len(Render(responses)))
	}
}

func longQuestion() string {
	return strings.Repeat("Tell me everything about the history of Paris. ", 15)
}

func TestLongQuestionIsAnsweredPieceByPiece(t *testing.T) {
	ctx := context.Background()
	model := &stubModel{}
	e, s := newTestEngine(t, testConfig(), model)
	if _, err := e.Process(ctx, s, parisText); err != nil {
		t.Fatal(err)
	}

	question := longQuestion()
	pieces, _ := e.Chunks(question)
	if len(pieces) < 2 {
		t.Fatalf("question split into %d pieces, want at least 2", len(pieces))
	}

	responses, err := e.Ask(ctx, s, question)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(responses) != len(pieces) {
		t.Fatalf("got %d responses, want %d", len(responses), len(pieces))
	}
	if historyLen(t, s) != 2*len(pieces) {
		t.Fatalf("history len = %d, want %d", historyLen(t, s), 2*len(pieces))
	}
	for i, r := range responses {
		if r.Question != pieces[i] {
			t.Errorf("response %d question mismatch", i)
		}
		if len(r.ChatHistory) != 2*(i+1) {
			t.Errorf("response %d snapshot len = %d, want %d", i, len(r.ChatHistory), 2*(i+1))
		}
	}
	if !strings.Contains(model.prompts[1], "AI: answer 1") {
		t.Fatalf("second prompt should include the first answer:\n%s", model.prompts[1])
	}

	rendered := Render(responses)
	for _, m := range rendered {
		if m.Text == "answer 1" && m.Role != models.RoleAssistant {
			t.Fatalf("answer attributed to %s", m.Role)
		}
	}
}

func TestQuestionSplittingCanBeDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	split := false
	cfg.RAG.SplitQuestions = &split
	model := &stubModel{}
	e, s := newTestEngine(t, cfg, model)
	if _, err := e.Process(ctx, s, parisText); err != nil {
		t.Fatal(err)
	}

	responses, err := e.Ask(ctx, s, longQuestion())
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != 1 || len(model.prompts) != 1 {
		t.Fatalf("got %d responses and %d prompts, want 1 each", len(responses), len(model.prompts))
	}
}

func TestGenerationFailureKeepsCommittedHistory(t *testing.T) {
	ctx := context.Background()
	model := &stubModel{failAt: 2}
	e, s := newTestEngine(t, testConfig(), model)
	if _, err := e.Process(ctx, s, parisText); err != nil {
		t.Fatal(err)
	}

	responses, err := e.Ask(ctx, s, longQuestion())
	if !errors.Is(err, models.ErrGeneration) {
		t.Fatalf("Ask() error = %v, want ErrGeneration", err)
	}
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want the 1 completed before the failure", len(responses))
	}
	if historyLen(t, s) != 2 {
		t.Fatalf("history len = %d, want 2", historyLen(t, s))
	}
	if len(model.prompts) != 2 {
		t.Fatalf("model called %d times, remaining pieces should be skipped", len(model.prompts))
	}
	if s.Phase() != session.Ready {
		t.Fatalf("phase = %v, want ready", s.Phase())
	}
}

func TestCondenseQuestion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.RAG.CondenseQuestion = true
	model := &stubModel{}
	e, s := newTestEngine(t, cfg, model)
	if _, err := e.Process(ctx, s, parisText); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Ask(ctx, s, "What is the capital of France?"); err != nil {
		t.Fatal(err)
	}
	if len(model.prompts) != 1 {
		t.Fatalf("first question made %d calls, want 1 with empty history", len(model.prompts))
	}

	responses, err := e.Ask(ctx, s, "How many people live there?")
	if err != nil {
		t.Fatal(err)
	}
	if len(model.prompts) != 3 {
		t.Fatalf("follow up made %d calls in total, want 3", len(model.prompts))
	}
	if !strings.Contains(model.prompts[1], "Follow Up Input: How many people live there?") {
		t.Errorf("second call is not a condense prompt:\n%s", model.prompts[1])
	}
	r := responses[0]
	if r.StandaloneQuestion != "answer 2" || r.Question != "How many people live there?" {
		t.Errorf("response = %+v", r)
	}
	history, _ := s.History(ctx)
	if history[2].GetContent() != "How many people live there?" {
		t.Errorf("history keeps %q, want the original question", history[2].GetContent())
	}
}

func TestEmptyQuestion(t *testing.T) {
	ctx := context.Background()
	model := &stubModel{}
	e, s := newTestEngine(t, testConfig(), model)
	if _, err := e.Process(ctx, s, parisText); err != nil {
		t.Fatal(err)
	}
	responses, err := e.Ask(ctx, s, "   ")
	if err != nil || len(responses) != 0 || len(model.prompts) != 0 {
		t.Fatalf("Ask(blank) = %d responses, %v", len(responses), err)
	}
}

type countingTokens struct{ calls int }

func (c *countingTokens) Count(text string) int {
	c.calls++
	return len(strings.Fields(text))
}

func TestProgressAndTokenOptions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.RAG.ChunkSize = 40
	cfg.RAG.ChunkOverlap = 5
	cfg.RAG.BatchSize = 2

	var last [2]int
	calls := 0
	tokens := &countingTokens{}
	e, err := NewEngine(cfg, embedding.NewHashEmbedder(32), &stubModel{},
		WithProgress(func(done, total int) {
			calls++
			last = [2]int{done, total}
		}),
		WithTokenCounter(tokens),
	)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := session.New()

	n, err := e.Process(ctx, s, parisText)
	if err != nil {
		t.Fatal(err)
	}
	if last != [2]int{n, n} || calls != (n+1)/2 {
		t.Fatalf("progress calls = %d last = %v for %d chunks", calls, last, n)
	}

	if _, err := e.Ask(ctx, s, "What is the capital of France?"); err != nil {
		t.Fatal(err)
	}
	if tokens.calls == 0 {
		t.Fatal("token counter was never consulted")
	}
}

func TestIsUserError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{models.ErrEmptyCorpus, true},
		{fmt.Errorf("wrapped: %w", models.ErrConfiguration), true},
		{models.ErrRetrieval, true},
		{fmt.Errorf("%w: boom", models.ErrGeneration), false},
		{models.ErrEmbeddingService, false},
	}
	for _, tt := range tests {
		if got := IsUserError(tt.err); got != tt.want {
			t.Errorf("IsUserError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
