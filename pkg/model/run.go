package model

import (
	"time"

	"github.com/google/uuid"
)

type RunID string

// NewRunID generates a new unique RunID
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

type StepStatus string

const (
	StepStatusRunning StepStatus = "running"
	StepStatusOK      StepStatus = "ok"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusFailed  StepStatus = "failed"
)

// Step is one named stage of a pipeline run
type Step struct {
	Label     string
	Status    StepStatus
	Detail    string
	StartedAt time.Time
	EndedAt   time.Time
}

// PipelineRun is the in-memory execution trace of one pipeline invocation.
// It is accumulated while the run progresses and persisted exactly once,
// attached to whichever task the run touched. Never partially flushed.
type PipelineRun struct {
	ID        RunID
	OwnerID   OwnerID
	AgentID   AgentID
	Channel   Channel
	HopCount  int
	Steps     []Step
	StartedAt time.Time
	EndedAt   time.Time

	// Private model reasoning extracted from the response, never shown to
	// the caller
	Thinking string
}

// NewPipelineRun starts a trace for one invocation
func NewPipelineRun(owner OwnerID, agent AgentID, channel Channel, hop int) *PipelineRun {
	return &PipelineRun{
		ID:        NewRunID(),
		OwnerID:   owner,
		AgentID:   agent,
		Channel:   channel,
		HopCount:  hop,
		StartedAt: time.Now(),
	}
}

// StartStep appends a running step and returns its index
func (r *PipelineRun) StartStep(label string) int {
	r.Steps = append(r.Steps, Step{
		Label:     label,
		Status:    StepStatusRunning,
		StartedAt: time.Now(),
	})
	return len(r.Steps) - 1
}

// EndStep finalizes the step at idx with the given status and detail
func (r *PipelineRun) EndStep(idx int, status StepStatus, detail string) {
	if idx < 0 || idx >= len(r.Steps) {
		return
	}
	r.Steps[idx].Status = status
	r.Steps[idx].Detail = detail
	r.Steps[idx].EndedAt = time.Now()
}

// Finish closes the run
func (r *PipelineRun) Finish() {
	r.EndedAt = time.Now()
}
