package session

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"

	"document-chat/internal/chromemdb"
	"document-chat/internal/helper"
)

// Phase is where the conversation engine stands for one session
type Phase int

const (
	Uninitialized Phase = iota
	Ready
	Answering
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Answering:
		return "answering"
	default:
		return "unknown"
	}
}

// State is everything one interactive session holds: the current vector index
// and the chat history. The two have independent lifecycles; replacing the
// index never touches the history.
//
// A State has a single writer and is not safe for concurrent use.
type State struct {
	ID      string
	index   *chromemdb.Index
	history *memory.ChatMessageHistory
	phase   Phase
}

func New() (*State, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	return &State{
		ID:      id,
		history: memory.NewChatMessageHistory(),
		phase:   Uninitialized,
	}, nil
}

// Index returns the current index or nil before the first successful build.
func (s *State) Index() *chromemdb.Index {
	return s.index
}

// SetIndex replaces the index and makes the session ready for questions.
func (s *State) SetIndex(idx *chromemdb.Index) {
	s.index = idx
	if idx != nil && s.phase != Answering {
		s.phase = Ready
	}
}

func (s *State) Phase() Phase {
	return s.phase
}

// BeginAnswer marks a question as in flight. It is only valid once an index
// is present.
func (s *State) BeginAnswer() {
	s.phase = Answering
}

func (s *State) EndAnswer() {
	if s.index != nil {
		s.phase = Ready
	} else {
		s.phase = Uninitialized
	}
}

// History returns a copy of the chat history, oldest first
func (s *State) History(ctx context.Context) ([]llms.ChatMessage, error) {
	msgs, err := s.history.Messages(ctx)
	if err != nil {
		return nil, err
	}
	return append([]llms.ChatMessage(nil), msgs...), nil
}

func (s *State) AppendHistory(ctx context.Context, msgs ...llms.ChatMessage) error {
	for _, m := range msgs {
		if err := s.history.AddMessage(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the chat history. The index is kept.
func (s *State) Reset(ctx context.Context) error {
	return s.history.Clear(ctx)
}
