package model

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityNone  Severity = "none"
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
)

type FlagType string

const (
	FlagPrivateKey       FlagType = "private_key_material"
	FlagHardcodedSecret  FlagType = "hardcoded_secret"
	FlagDestructiveShell FlagType = "destructive_shell"
	FlagPipeToShell      FlagType = "pipe_to_shell"
	FlagCodeExecution    FlagType = "code_execution"
)

// SecurityFlag is one screener rule match, persisted as an audit entry when
// the input is blocked
type SecurityFlag struct {
	Type     FlagType `json:"type"`
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Excerpt  string   `json:"excerpt"`
}

type AuditID string

// NewAuditID generates a new unique AuditID
func NewAuditID() AuditID {
	return AuditID(uuid.New().String())
}

type AuditKind string

const (
	AuditKindSecurityFlag AuditKind = "security_flag"
	AuditKindPipelineRun  AuditKind = "pipeline_run"
	AuditKindDelegation   AuditKind = "delegation"
	AuditKindAction       AuditKind = "action"
)

// AuditRecord is a write-once trail entry emitted after a pipeline run or a
// blocked input
type AuditRecord struct {
	ID        AuditID
	OwnerID   OwnerID
	AgentID   AgentID
	Kind      AuditKind
	Channel   Channel
	Detail    string
	Flags     []SecurityFlag
	CreatedAt time.Time
}
