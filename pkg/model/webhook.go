package model

import (
	"time"

	"github.com/google/uuid"
)

type RetryID string

// NewRetryID generates a new unique RetryID
func NewRetryID() RetryID {
	return RetryID(uuid.New().String())
}

type RetryStatus string

const (
	RetryStatusPending   RetryStatus = "pending"
	RetryStatusCompleted RetryStatus = "completed"
	RetryStatusFailed    RetryStatus = "failed"
)

// WebhookRetry records a failed inbound-webhook ingestion for durable
// at-least-once redelivery. Backoff doubles per attempt until Attempts
// reaches MaxAttempts, then the record is terminally failed and needs
// manual triage.
type WebhookRetry struct {
	ID          RetryID
	Provider    string
	RawPayload  []byte
	PayloadRef  string // blob storage key when the payload is offloaded
	Attempts    int
	MaxAttempts int
	NextAttempt time.Time
	Status      RetryStatus
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Due reports whether the record is eligible for another attempt at now
func (w *WebhookRetry) Due(now time.Time) bool {
	return w.Status == RetryStatusPending && !w.NextAttempt.After(now)
}
