package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/y-hosokawa/hibari/pkg/adapter"
	"github.com/y-hosokawa/hibari/pkg/gateway"
	"github.com/y-hosokawa/hibari/pkg/model"
)

type mockChat struct {
	requests  []*adapter.ChatRequest
	responses []*adapter.ChatResponse
	errs      []error
}

func (m *mockChat) Generate(_ context.Context, req *adapter.ChatRequest) (*adapter.ChatResponse, error) {
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], m.errs[idx]
}

type mockEmbedder struct {
	vector []float32
}

func (m *mockEmbedder) Embed(_ context.Context, _ *adapter.EmbedRequest) ([]float32, error) {
	return m.vector, nil
}

func newGateway(chat adapter.Chat) *gateway.Gateway {
	return gateway.NewWithAdapters(map[model.Provider]adapter.Chat{
		model.ProviderGemini:    chat,
		model.ProviderAnthropic: chat,
		model.ProviderOpenAI:    chat,
	}, &mockEmbedder{vector: []float32{0.1, 0.2}})
}

func TestInvokeSingleVariantForPlainModel(t *testing.T) {
	chat := &mockChat{
		responses: []*adapter.ChatResponse{{Content: "hello", TokensUsed: 12}},
		errs:      []error{nil},
	}
	gw := newGateway(chat)

	resp, err := gw.Invoke(context.Background(), &gateway.Request{
		Provider: model.ProviderGemini,
		Model:    "gemini-2.0-flash",
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: "hi"}},
	})
	gt.NoError(t, err)
	gt.Equal(t, resp.Content, "hello")
	gt.Equal(t, resp.TokensUsed, 12)
	gt.Equal(t, len(chat.requests), 1)
	gt.Equal(t, chat.requests[0].MaxOutputTokens, int32(0))
	gt.Equal(t, chat.requests[0].ThinkingBudget, int32(0))
}

func TestInvokeReasoningLadder(t *testing.T) {
	transient := errors.New("stream closed unexpectedly")
	chat := &mockChat{
		responses: []*adapter.ChatResponse{nil, nil, {Content: "finally", TokensUsed: 99}},
		errs:      []error{transient, transient, nil},
	}
	gw := newGateway(chat)

	resp, err := gw.Invoke(context.Background(), &gateway.Request{
		Provider: model.ProviderOpenAI,
		Model:    "gpt-5",
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: "hi"}},
	})
	gt.NoError(t, err)
	gt.Equal(t, resp.Content, "finally")
	gt.Equal(t, len(chat.requests), 3)

	gt.Equal(t, chat.requests[0].ReasoningEffort, "high")
	gt.Equal(t, chat.requests[0].MaxOutputTokens, int32(32000))
	gt.Equal(t, chat.requests[1].ReasoningEffort, "")
	gt.Equal(t, chat.requests[1].MaxOutputTokens, int32(32000))
	gt.Equal(t, chat.requests[2].ReasoningEffort, "")
	gt.Equal(t, chat.requests[2].MaxOutputTokens, int32(0))
}

func TestInvokeReasoningLadderAnthropic(t *testing.T) {
	chat := &mockChat{
		responses: []*adapter.ChatResponse{{Content: "ok", TokensUsed: 3}},
		errs:      []error{nil},
	}
	gw := newGateway(chat)

	_, err := gw.Invoke(context.Background(), &gateway.Request{
		Provider: model.ProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: "hi"}},
	})
	gt.NoError(t, err)
	gt.Equal(t, chat.requests[0].ThinkingBudget, int32(8192))
	gt.Equal(t, chat.requests[0].ReasoningEffort, "")
}

func TestInvokeConfigErrorStopsLadder(t *testing.T) {
	chat := &mockChat{
		responses: []*adapter.ChatResponse{nil},
		errs:      []error{errors.New("API returned 401: invalid API key provided")},
	}
	gw := newGateway(chat)

	_, err := gw.Invoke(context.Background(), &gateway.Request{
		Provider: model.ProviderOpenAI,
		Model:    "o3-mini",
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: "hi"}},
	})
	gt.Error(t, err)
	gt.True(t, gateway.IsConfigError(err))
	gt.Equal(t, len(chat.requests), 1)
}

func TestInvokeTransientErrorNotConfig(t *testing.T) {
	chat := &mockChat{
		responses: []*adapter.ChatResponse{nil},
		errs:      []error{errors.New("connection reset by peer")},
	}
	gw := newGateway(chat)

	_, err := gw.Invoke(context.Background(), &gateway.Request{
		Provider: model.ProviderGemini,
		Model:    "gemini-2.0-flash",
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: "hi"}},
	})
	gt.Error(t, err)
	gt.False(t, gateway.IsConfigError(err))
}

func TestInvokeEmptyResponseFallback(t *testing.T) {
	chat := &mockChat{
		responses: []*adapter.ChatResponse{{Content: "   ", TokensUsed: 7}},
		errs:      []error{nil},
	}
	gw := newGateway(chat)

	resp, err := gw.Invoke(context.Background(), &gateway.Request{
		Provider: model.ProviderGemini,
		Model:    "gemini-2.0-flash",
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: "hi"}},
	})
	gt.NoError(t, err)
	gt.True(t, resp.Content != "")
	gt.True(t, resp.Content != "   ")
	gt.Equal(t, resp.TokensUsed, 7)
}

func TestEmbed(t *testing.T) {
	gw := newGateway(&mockChat{})

	vec, err := gw.Embed(context.Background(), &gateway.EmbedRequest{Text: "hello"})
	gt.NoError(t, err)
	gt.Equal(t, len(vec), 2)
}
