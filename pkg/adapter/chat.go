package adapter

import (
	"context"
)

// Role of a canonical chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the provider-independent chat message passed to adapters
type Message struct {
	Role    Role
	Content string
}

// ChatRequest is the canonical completion request. Credentials travel with
// the request because keys are resolved per owner, not per process.
type ChatRequest struct {
	APIKey  string
	Model   string
	BaseURL string // optional endpoint override

	System   string
	Messages []Message

	MaxOutputTokens int32

	// Reasoning-model shaping. Adapters ignore fields their provider does
	// not understand.
	ReasoningEffort string // "", "low", "medium", "high"
	ThinkingBudget  int32  // provider-side hidden reasoning token budget
}

// ChatResponse is the normalized completion result
type ChatResponse struct {
	Content    string
	TokensUsed int
}

// Chat is a single provider-family completion adapter
type Chat interface {
	Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// EmbedRequest is the canonical embedding request
type EmbedRequest struct {
	APIKey string
	Model  string
	Text   string
}

// Embedder produces embedding vectors for semantic memory recall
type Embedder interface {
	Embed(ctx context.Context, req *EmbedRequest) ([]float32, error)
}
