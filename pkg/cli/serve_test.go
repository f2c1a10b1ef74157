package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/y-hosokawa/hibari/pkg/adapter"
	"github.com/y-hosokawa/hibari/pkg/gateway"
	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/repository"
	"github.com/y-hosokawa/hibari/pkg/usecase/pipeline"
)

type cannedChat struct {
	reply string
}

func (c *cannedChat) Generate(_ context.Context, _ *adapter.ChatRequest) (*adapter.ChatResponse, error) {
	return &adapter.ChatResponse{Content: c.reply, TokensUsed: 7}, nil
}

type cannedEmbedder struct{}

func (e *cannedEmbedder) Embed(_ context.Context, _ *adapter.EmbedRequest) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func newHandlerPipeline(t *testing.T) *pipeline.UseCase {
	t.Helper()
	repo := repository.NewMemory()
	gw := gateway.NewWithAdapters(map[model.Provider]adapter.Chat{
		model.ProviderGemini: &cannedChat{reply: "Hello from the agent."},
	}, &cannedEmbedder{})
	vault := adapter.NewStaticVault(map[model.Provider]string{
		model.ProviderGemini: "test-key",
	})

	gt.NoError(t, repo.PutAgent(context.Background(), &model.Agent{
		ID:       "agent-1",
		OwnerID:  "acct-1",
		Provider: model.ProviderGemini,
		Model:    "m1",
	}))

	pipe, err := pipeline.New(context.Background(), repo, gw, vault)
	gt.NoError(t, err)
	return pipe
}

func TestHandleMessage(t *testing.T) {
	handler := handleMessage(newHandlerPipeline(t))

	body := `{"owner_id": "acct-1", "agent_id": "agent-1", "message": "hello", "caller_id": "widget-7"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	gt.Equal(t, rec.Code, http.StatusOK)

	var resp messageResponse
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	gt.Equal(t, resp.Response, "Hello from the agent.")
	gt.Equal(t, resp.TokensUsed, 7)
	gt.False(t, resp.Blocked)
}

func TestHandleMessageRejectsIncompleteBody(t *testing.T) {
	handler := handleMessage(newHandlerPipeline(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"message": "hi"}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	gt.Equal(t, rec.Code, http.StatusBadRequest)
}
