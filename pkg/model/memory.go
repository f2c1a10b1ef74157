package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

type MemoryKind string

const (
	MemoryKindConversation        MemoryKind = "conversation"
	MemoryKindConversationSummary MemoryKind = "conversation_summary"
	MemoryKindFact                MemoryKind = "fact"
	MemoryKindTaskOutcome         MemoryKind = "task_outcome"
)

// MemoryDirection tags agent-to-agent messages with the side that wrote them
type MemoryDirection string

const (
	MemoryDirectionInbound  MemoryDirection = "inbound"
	MemoryDirectionOutbound MemoryDirection = "outbound"
)

// Memory is an append-only conversation or fact record. Records are never
// mutated after creation except for archival; cleanup is owned by an external
// housekeeping job.
type Memory struct {
	ID        MemoryID
	OwnerID   OwnerID
	AgentID   AgentID // optional
	Kind      MemoryKind
	Content   string
	Channel   Channel
	Embedding firestore.Vector32 // optional, absent when embedding is unavailable

	// Free-form metadata for conversation threading
	Role        string
	ThreadID    string
	PeerAgentID AgentID
	Direction   MemoryDirection
	HopCount    int

	// Provider-assigned ids for idempotent webhook replay
	ProviderThreadID  string
	ProviderMessageID string

	CreatedAt  time.Time
	Archived   bool
	ArchivedAt *time.Time
}

type OwnerID string

type Channel string

const (
	ChannelAPI    Channel = "api"
	ChannelEmail  Channel = "email"
	ChannelPhone  Channel = "phone"
	ChannelWidget Channel = "widget"
	ChannelAgent  Channel = "agent"
	ChannelCLI    Channel = "cli"
)
