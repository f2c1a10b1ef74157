package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var ErrInvalidTaskStatus = goerr.New("invalid task status")

type TaskID string

// NewTaskID generates a new unique TaskID
func NewTaskID() TaskID {
	return TaskID(uuid.New().String())
}

type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Validate checks if the status is valid
func (s TaskStatus) Validate() error {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return nil
	default:
		return goerr.Wrap(ErrInvalidTaskStatus, "unknown status", goerr.V("status", s))
	}
}

// Terminal reports whether the status ends the task lifecycle
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// Task is a unit of agent work created and driven by pipeline actions
type Task struct {
	ID          TaskID
	OwnerID     OwnerID
	AgentID     AgentID
	Description string
	Status      TaskStatus
	Outcome     string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time

	// Latest pipeline run attached to this task, persisted once per run
	Run *PipelineRun
}
