package webhook_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/y-hosokawa/hibari/pkg/adapter"
	"github.com/y-hosokawa/hibari/pkg/gateway"
	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/repository"
	"github.com/y-hosokawa/hibari/pkg/usecase/pipeline"
	"github.com/y-hosokawa/hibari/pkg/usecase/webhook"
)

const testOwner = model.OwnerID("acct-1")

type fixedChat struct {
	reply string
}

func (c *fixedChat) Generate(_ context.Context, _ *adapter.ChatRequest) (*adapter.ChatResponse, error) {
	return &adapter.ChatResponse{Content: c.reply, TokensUsed: 5}, nil
}

type fixedEmbedder struct{}

func (e *fixedEmbedder) Embed(_ context.Context, _ *adapter.EmbedRequest) ([]float32, error) {
	return []float32{0.5, 0.5}, nil
}

func newTestWebhook(t *testing.T, repo *repository.Memory, opts ...webhook.Option) *webhook.UseCase {
	t.Helper()
	chat := &fixedChat{reply: "Got it, thanks for the update."}
	gw := gateway.NewWithAdapters(map[model.Provider]adapter.Chat{
		model.ProviderGemini: chat,
	}, &fixedEmbedder{})
	vault := adapter.NewStaticVault(map[model.Provider]string{
		model.ProviderGemini: "test-key",
	})

	pipe, err := pipeline.New(context.Background(), repo, gw, vault)
	gt.NoError(t, err)

	gt.NoError(t, repo.PutAgent(context.Background(), &model.Agent{
		ID:       "agent-1",
		OwnerID:  testOwner,
		Provider: model.ProviderGemini,
		Model:    "m1",
	}))
	return webhook.New(repo, pipe, opts...)
}

func TestHandleEventProcessesMessage(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := newTestWebhook(t, repo)

	payload := []byte(`{"owner_id": "acct-1", "agent_id": "agent-1", "thread_id": "t-1", "message_id": "msg-1", "text": "hello from chat", "channel": "widget"}`)
	gt.NoError(t, uc.HandleEvent(ctx, "chatapp", payload))

	// user turn carries the provider-prefixed ids for replay detection
	found := gt.R1(repo.FindMemoryByProviderMessage(ctx, "chatapp", "t-1", "msg-1")).NoError(t)
	gt.V(t, found).NotNil()
	gt.Equal(t, found.Channel, model.ChannelWidget)
	gt.Equal(t, found.Content, "hello from chat")

	gt.Equal(t, len(repo.Retries()), 0)
}

func TestHandleEventReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := newTestWebhook(t, repo)

	payload := []byte(`{"owner_id": "acct-1", "agent_id": "agent-1", "thread_id": "t-1", "message_id": "msg-1", "text": "hello"}`)
	gt.NoError(t, uc.HandleEvent(ctx, "chatapp", payload))
	count := repo.MemoryCount()
	gt.True(t, count > 0)

	gt.NoError(t, uc.HandleEvent(ctx, "chatapp", payload))
	gt.Equal(t, repo.MemoryCount(), count)
}

func TestHandleEventInvalidPayloadEnqueued(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := newTestWebhook(t, repo)

	gt.Error(t, uc.HandleEvent(ctx, "chatapp", []byte("not json")))

	retries := repo.Retries()
	gt.Equal(t, len(retries), 1)
	gt.Equal(t, retries[0].Status, model.RetryStatusPending)
	gt.Equal(t, retries[0].Provider, "chatapp")
	gt.Equal(t, retries[0].Attempts, 0)
	gt.True(t, retries[0].LastError != "")
}

func TestProcessDueBackoffDoublesAndTerminates(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	initialDelay := 10 * time.Second
	uc := newTestWebhook(t, repo, webhook.WithRetrySchedule(initialDelay, 3))

	// permanently invalid payload, every attempt fails
	gt.NoError(t, uc.Enqueue(ctx, "chatapp", []byte("not json"), nil))

	now := time.Now()
	var lastNext time.Time
	for attempt := 1; attempt < 3; attempt++ {
		now = now.Add(24 * time.Hour)
		gt.NoError(t, uc.ProcessDue(ctx, "chatapp", now))

		retries := repo.Retries()
		gt.Equal(t, len(retries), 1)
		gt.Equal(t, retries[0].Status, model.RetryStatusPending)
		gt.Equal(t, retries[0].Attempts, attempt)

		expected := now.Add(initialDelay * (1 << attempt))
		gt.Equal(t, retries[0].NextAttempt, expected)
		gt.True(t, retries[0].NextAttempt.After(lastNext))
		lastNext = retries[0].NextAttempt
	}

	// final attempt reaches the cap and fails terminally
	now = now.Add(24 * time.Hour)
	gt.NoError(t, uc.ProcessDue(ctx, "chatapp", now))
	retries := repo.Retries()
	gt.Equal(t, retries[0].Status, model.RetryStatusFailed)
	gt.Equal(t, retries[0].Attempts, 3)

	// failed records are never picked up again
	now = now.Add(24 * time.Hour)
	gt.NoError(t, uc.ProcessDue(ctx, "chatapp", now))
	gt.Equal(t, repo.Retries()[0].Attempts, 3)
}

func TestProcessDueSuccessCompletes(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := newTestWebhook(t, repo, webhook.WithRetrySchedule(time.Second, 3))

	payload := []byte(`{"owner_id": "acct-1", "agent_id": "agent-1", "text": "retry me"}`)
	gt.NoError(t, uc.Enqueue(ctx, "chatapp", payload, nil))

	gt.NoError(t, uc.ProcessDue(ctx, "chatapp", time.Now().Add(time.Minute)))

	retries := repo.Retries()
	gt.Equal(t, retries[0].Status, model.RetryStatusCompleted)
	gt.True(t, repo.MemoryCount() > 0)
}
