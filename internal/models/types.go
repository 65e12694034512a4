package models

import "github.com/tmc/langchaingo/llms"

// Document is one uploaded file. Name only picks the format.
type Document struct {
	Name string
	Data []byte
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one rendered chat entry
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Source is a retrieved chunk that was fed to the model
type Source struct {
	Position int     `json:"position"`
	Content  string  `json:"content"`
	Score    float32 `json:"score"`
}

// Response is the result of answering a single question chunk.
// ChatHistory is the full history snapshot right after the exchange was appended.
type Response struct {
	Question           string
	StandaloneQuestion string
	Answer             string
	Sources            []Source
	ChatHistory        []llms.ChatMessage
}
