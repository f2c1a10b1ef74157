package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/y-hosokawa/hibari/pkg/model"
)

// Repository is the storage collaborator of the pipeline. All cross-request
// state lives behind this interface; the pipeline itself keeps no shared
// mutable state between invocations.
type Repository interface {
	// PutMemory appends a memory record. Records are append-only.
	PutMemory(ctx context.Context, memory *model.Memory) error

	// ListRecentMemories returns the newest conversation memories for the
	// owner/agent pair, newest first
	ListRecentMemories(ctx context.Context, owner model.OwnerID, agent model.AgentID, limit int) ([]*model.Memory, error)

	// SearchSimilarMemories performs approximate nearest-neighbor search over
	// embedded memories scoped to the owner
	SearchSimilarMemories(ctx context.Context, owner model.OwnerID, embedding firestore.Vector32, limit int) ([]*model.Memory, error)

	// ListThreadMemories returns the A2A transcript for a thread id, oldest first
	ListThreadMemories(ctx context.Context, owner model.OwnerID, threadID string, limit int) ([]*model.Memory, error)

	// FindMemoryByProviderMessage looks up a memory by provider-assigned ids,
	// used for idempotent webhook replay. Returns nil when absent.
	FindMemoryByProviderMessage(ctx context.Context, provider, threadID, messageID string) (*model.Memory, error)

	// PutNode saves a knowledge node
	PutNode(ctx context.Context, node *model.KnowledgeNode) error

	// GetNode retrieves a knowledge node by id
	GetNode(ctx context.Context, owner model.OwnerID, id model.NodeID) (*model.KnowledgeNode, error)

	// SearchNodes performs full-text search over node content scoped to the
	// owner, best matches first
	SearchNodes(ctx context.Context, owner model.OwnerID, query string, limit int) ([]*model.KnowledgeNode, error)

	// ListMOCNodes returns the owner's map-of-content index nodes
	ListMOCNodes(ctx context.Context, owner model.OwnerID) ([]*model.KnowledgeNode, error)

	// DeleteNode removes a knowledge node
	DeleteNode(ctx context.Context, owner model.OwnerID, id model.NodeID) error

	// GetAgent retrieves an agent by id
	GetAgent(ctx context.Context, id model.AgentID) (*model.Agent, error)

	// PutAgent saves an agent
	PutAgent(ctx context.Context, agent *model.Agent) error

	// GetAccount retrieves account-level settings
	GetAccount(ctx context.Context, id model.OwnerID) (*model.Account, error)

	// PutAccount saves account-level settings
	PutAccount(ctx context.Context, account *model.Account) error

	// PutTask saves a task
	PutTask(ctx context.Context, task *model.Task) error

	// GetTask retrieves a task by id
	GetTask(ctx context.Context, owner model.OwnerID, id model.TaskID) (*model.Task, error)

	// PutWebhookRetry saves a webhook retry record
	PutWebhookRetry(ctx context.Context, retry *model.WebhookRetry) error

	// ListDueWebhookRetries returns pending retry records whose next attempt
	// time has passed
	ListDueWebhookRetries(ctx context.Context, provider string, now time.Time) ([]*model.WebhookRetry, error)
}
