package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/y-hosokawa/hibari/pkg/adapter"
	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/repository"
	"github.com/y-hosokawa/hibari/pkg/usecase/pipeline"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

const (
	defaultInitialDelay = 30 * time.Second
	defaultMaxAttempts  = 5

	// payloads above this size go to blob storage instead of the retry record
	maxInlinePayload = 64 * 1024
)

var ErrInvalidPayload = goerr.New("invalid webhook payload")

// event is the provider-normalized inbound message shape
type event struct {
	OwnerID   string `json:"owner_id"`
	AgentID   string `json:"agent_id"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Channel   string `json:"channel"`
}

// UseCase ingests provider webhooks and owns their durable retry queue
type UseCase struct {
	repo    repository.Repository
	pipe    *pipeline.UseCase
	storage adapter.Storage

	initialDelay time.Duration
	maxAttempts  int
}

// Option configures the webhook use case
type Option func(*UseCase)

// WithStorage enables oversized payload offloading
func WithStorage(s adapter.Storage) Option {
	return func(u *UseCase) { u.storage = s }
}

// WithRetrySchedule overrides the backoff base delay and attempt cap
func WithRetrySchedule(initialDelay time.Duration, maxAttempts int) Option {
	return func(u *UseCase) {
		u.initialDelay = initialDelay
		u.maxAttempts = maxAttempts
	}
}

// New creates the webhook use case
func New(repo repository.Repository, pipe *pipeline.UseCase, opts ...Option) *UseCase {
	u := &UseCase{
		repo:         repo,
		pipe:         pipe,
		initialDelay: defaultInitialDelay,
		maxAttempts:  defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// HandleEvent processes one inbound webhook payload. A processing failure
// enqueues the raw payload for durable retry and still returns the error so
// the transport can log it.
func (u *UseCase) HandleEvent(ctx context.Context, provider string, rawPayload []byte) error {
	if err := u.process(ctx, provider, rawPayload); err != nil {
		if enqErr := u.Enqueue(ctx, provider, rawPayload, err); enqErr != nil {
			logging.From(ctx).Error("failed to enqueue webhook retry", "error", enqErr)
		}
		return err
	}
	return nil
}

// process parses and runs the payload through the pipeline. Replays of an
// already ingested message are detected by the provider-assigned ids and
// succeed without doing anything.
func (u *UseCase) process(ctx context.Context, provider string, rawPayload []byte) error {
	var ev event
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		return goerr.Wrap(ErrInvalidPayload, err.Error(), goerr.V("provider", provider))
	}
	if ev.OwnerID == "" || ev.AgentID == "" || ev.Text == "" {
		return goerr.Wrap(ErrInvalidPayload, "owner_id, agent_id and text are required",
			goerr.V("provider", provider))
	}

	if ev.ThreadID != "" && ev.MessageID != "" {
		existing, err := u.repo.FindMemoryByProviderMessage(ctx, provider, ev.ThreadID, ev.MessageID)
		if err != nil {
			return goerr.Wrap(err, "failed to check for replayed message")
		}
		if existing != nil {
			logging.From(ctx).Info("webhook replay ignored",
				"provider", provider, "message_id", ev.MessageID)
			return nil
		}
	}

	channel := model.Channel(ev.Channel)
	if channel == "" {
		channel = model.ChannelAPI
	}

	input := &pipeline.Input{
		OwnerID: model.OwnerID(ev.OwnerID),
		AgentID: model.AgentID(ev.AgentID),
		Message: ev.Text,
		Channel: channel,
	}
	if ev.ThreadID != "" {
		input.ProviderThreadID = provider + ":" + ev.ThreadID
	}
	if ev.MessageID != "" {
		input.ProviderMessageID = provider + ":" + ev.MessageID
	}

	if _, err := u.pipe.ProcessMessage(ctx, input); err != nil {
		return goerr.Wrap(err, "pipeline rejected webhook message", goerr.V("provider", provider))
	}
	return nil
}

// Enqueue records a failed ingestion for later redelivery. Oversized
// payloads are offloaded to blob storage when it is configured.
func (u *UseCase) Enqueue(ctx context.Context, provider string, rawPayload []byte, lastErr error) error {
	now := time.Now()
	retry := &model.WebhookRetry{
		ID:          model.NewRetryID(),
		Provider:    provider,
		MaxAttempts: u.maxAttempts,
		NextAttempt: now.Add(u.initialDelay),
		Status:      model.RetryStatusPending,
		CreatedAt:   now,
	}
	if lastErr != nil {
		retry.LastError = lastErr.Error()
	}

	if len(rawPayload) > maxInlinePayload && u.storage != nil {
		key := fmt.Sprintf("webhooks/%s/%s", provider, retry.ID)
		if err := u.putPayload(ctx, key, rawPayload); err != nil {
			return err
		}
		retry.PayloadRef = key
	} else {
		retry.RawPayload = rawPayload
	}

	if err := u.repo.PutWebhookRetry(ctx, retry); err != nil {
		return goerr.Wrap(err, "failed to save webhook retry", goerr.V("provider", provider))
	}
	return nil
}

// ProcessDue re-runs every eligible pending record. Success completes the
// record; failure doubles the backoff until the attempt cap, then the
// record is terminally failed for manual triage.
func (u *UseCase) ProcessDue(ctx context.Context, provider string, now time.Time) error {
	due, err := u.repo.ListDueWebhookRetries(ctx, provider, now)
	if err != nil {
		return goerr.Wrap(err, "failed to list due webhook retries", goerr.V("provider", provider))
	}

	for _, retry := range due {
		payload := retry.RawPayload
		if retry.PayloadRef != "" {
			payload, err = u.getPayload(ctx, retry.PayloadRef)
			if err != nil {
				logging.From(ctx).Error("failed to load offloaded payload",
					"retry_id", retry.ID, "error", err)
				continue
			}
		}

		if err := u.process(ctx, retry.Provider, payload); err != nil {
			retry.Attempts++
			retry.LastError = err.Error()
			if retry.Attempts >= retry.MaxAttempts {
				retry.Status = model.RetryStatusFailed
				logging.From(ctx).Error("webhook retry exhausted",
					"retry_id", retry.ID, "attempts", retry.Attempts)
			} else {
				retry.NextAttempt = now.Add(u.initialDelay * (1 << retry.Attempts))
			}
		} else {
			retry.Status = model.RetryStatusCompleted
		}

		if err := u.repo.PutWebhookRetry(ctx, retry); err != nil {
			logging.From(ctx).Error("failed to update webhook retry",
				"retry_id", retry.ID, "error", err)
		}
	}
	return nil
}

func (u *UseCase) putPayload(ctx context.Context, key string, payload []byte) error {
	w, err := u.storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open payload writer", goerr.V("key", key))
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write payload", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close payload writer", goerr.V("key", key))
	}
	return nil
}

func (u *UseCase) getPayload(ctx context.Context, key string) ([]byte, error) {
	r, err := u.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read payload", goerr.V("key", key))
	}
	return payload, nil
}
