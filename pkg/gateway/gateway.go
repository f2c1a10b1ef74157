package gateway

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/y-hosokawa/hibari/pkg/adapter"
	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

// ErrTagConfig marks failures caused by misconfiguration (bad key, unknown
// model, unreachable endpoint) rather than a transient provider fault.
// Callers surface a diagnostic instead of a generic apology.
var ErrTagConfig = goerr.NewTag("config_error")

// Message and EmbedRequest are re-exported so pipeline code does not import
// the adapter package directly.
type (
	Message      = adapter.Message
	Role         = adapter.Role
	EmbedRequest = adapter.EmbedRequest
)

const (
	RoleUser      = adapter.RoleUser
	RoleAssistant = adapter.RoleAssistant
)

const (
	// emptyResponseFallback is returned when the provider call succeeds but
	// yields no text
	emptyResponseFallback = "I received your message but was unable to generate a response. Please try again."

	// reasoning models need headroom for hidden tokens
	reasoningOutputTokens = 32000
	defaultThinkingBudget = 8192
)

// Request is a provider-independent completion request
type Request struct {
	Provider model.Provider
	APIKey   string
	Model    string
	BaseURL  string
	System   string
	Messages []Message
}

// Response is the normalized completion result
type Response struct {
	Content    string
	TokensUsed int
}

// Gateway routes canonical chat requests to the provider adapters
type Gateway struct {
	chats    map[model.Provider]adapter.Chat
	embedder adapter.Embedder
}

// New creates a Gateway with the default provider adapters
func New() *Gateway {
	gemini := adapter.NewGemini()
	return &Gateway{
		chats: map[model.Provider]adapter.Chat{
			model.ProviderGemini:    gemini,
			model.ProviderAnthropic: adapter.NewClaude(),
			model.ProviderOpenAI:    adapter.NewOpenAI(),
		},
		embedder: gemini,
	}
}

// NewWithAdapters creates a Gateway with the given adapters. Test use.
func NewWithAdapters(chats map[model.Provider]adapter.Chat, embedder adapter.Embedder) *Gateway {
	return &Gateway{chats: chats, embedder: embedder}
}

// Invoke sends the request to the provider. For reasoning models it walks a
// ladder of request variants from most to least demanding and accepts the
// first success. A successful but empty completion becomes a fixed fallback
// string so callers never see an empty reply.
func (g *Gateway) Invoke(ctx context.Context, req *Request) (*Response, error) {
	chat, ok := g.chats[req.Provider]
	if !ok {
		return nil, goerr.New("unknown provider",
			goerr.V("provider", req.Provider),
			goerr.T(ErrTagConfig),
		)
	}

	var lastErr error
	for _, variant := range variants(req) {
		resp, err := chat.Generate(ctx, variant)
		if err != nil {
			if isConfigError(err) {
				return nil, goerr.Wrap(err, "provider rejected request",
					goerr.V("provider", req.Provider),
					goerr.V("model", req.Model),
					goerr.T(ErrTagConfig),
				)
			}
			lastErr = err
			logging.From(ctx).Warn("provider call failed, trying next variant",
				"model", req.Model, "error", err)
			continue
		}

		content := resp.Content
		if strings.TrimSpace(content) == "" {
			content = emptyResponseFallback
		}
		return &Response{Content: content, TokensUsed: resp.TokensUsed}, nil
	}

	return nil, goerr.Wrap(lastErr, "all request variants failed",
		goerr.V("provider", req.Provider),
		goerr.V("model", req.Model),
	)
}

// Embed produces an embedding vector for the given text
func (g *Gateway) Embed(ctx context.Context, req *EmbedRequest) ([]float32, error) {
	return g.embedder.Embed(ctx, req)
}

// variants builds the request ladder. Non-reasoning models get a single bare
// request. Reasoning models get effort hint + raised budget, then raised
// budget only, then bare.
func variants(req *Request) []*adapter.ChatRequest {
	base := &adapter.ChatRequest{
		APIKey:   req.APIKey,
		Model:    req.Model,
		BaseURL:  req.BaseURL,
		System:   req.System,
		Messages: req.Messages,
	}
	if !isReasoningModel(req.Provider, req.Model) {
		return []*adapter.ChatRequest{base}
	}

	full := *base
	full.MaxOutputTokens = reasoningOutputTokens
	switch req.Provider {
	case model.ProviderOpenAI:
		full.ReasoningEffort = "high"
	default:
		full.ThinkingBudget = defaultThinkingBudget
	}

	budget := *base
	budget.MaxOutputTokens = reasoningOutputTokens

	return []*adapter.ChatRequest{&full, &budget, base}
}

var openaiReasoningPrefixes = []string{"o1", "o3", "gpt-5"}

func isReasoningModel(provider model.Provider, name string) bool {
	name = strings.ToLower(name)
	switch provider {
	case model.ProviderOpenAI:
		for _, p := range openaiReasoningPrefixes {
			if strings.HasPrefix(name, p) {
				return true
			}
		}
	case model.ProviderAnthropic:
		return strings.Contains(name, "claude-opus-4") ||
			strings.Contains(name, "claude-sonnet-4") ||
			strings.Contains(name, "claude-3-7")
	case model.ProviderGemini:
		return strings.Contains(name, "thinking") || strings.Contains(name, "2.5-pro")
	}
	return false
}

var configErrorMarkers = []string{
	"401", "403", "404",
	"invalid api key",
	"invalid x-api-key",
	"incorrect api key",
	"model not found",
	"no such host",
	"unauthorized",
	"permission denied",
}

func isConfigError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range configErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsConfigError reports whether the error was classified as a
// misconfiguration
func IsConfigError(err error) bool {
	return goerr.HasTag(err, ErrTagConfig)
}
