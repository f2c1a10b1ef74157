package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

const genericOutcome = "The task was completed."

// boilerplatePhrases never qualify as a stored task outcome
var boilerplatePhrases = []string{
	"done",
	"ok",
	"okay",
	"task complete",
	"task completed",
	"completed",
	"finished",
	"no further action",
}

const minOutcomeLen = 40

// idTokenRe matches internal identifier-shaped tokens: 28 to 36 character
// alphanumeric runs. A match must contain both letters and digits.
var idTokenRe = regexp.MustCompile(`\b[A-Za-z0-9]{28,36}\b`)

// dispatch executes the parsed actions sequentially. Each action is
// isolated: a failure is logged and skipped, never aborting siblings or the
// reply. The one exception is the delegation hop ceiling, which is terminal
// and propagates up the recursion. Returns extra tokens spent by delegated
// runs.
func (u *UseCase) dispatch(ctx context.Context, agent *model.Agent, input *Input, parsed *parsedResponse, run *model.PipelineRun) (int, error) {
	extraTokens := 0
	for _, action := range parsed.Actions {
		tokens, err := u.execute(ctx, agent, input, action, parsed.Reply, run)
		if err != nil {
			if errors.Is(err, ErrDelegationLoop) {
				return extraTokens, err
			}
			logging.From(ctx).Error("action failed",
				"kind", action.Kind(), "error", err)
			continue
		}
		extraTokens += tokens
		u.auditAction(ctx, input, action)
	}
	return extraTokens, nil
}

func (u *UseCase) execute(ctx context.Context, agent *model.Agent, input *Input, action model.Action, reply string, run *model.PipelineRun) (int, error) {
	switch act := action.(type) {
	case *model.CreateTask:
		return 0, u.repo.PutTask(ctx, &model.Task{
			ID:          model.NewTaskID(),
			OwnerID:     input.OwnerID,
			AgentID:     agent.ID,
			Description: act.Description,
			Status:      model.TaskStatusOpen,
			CreatedAt:   time.Now(),
		})

	case *model.UpdateTask:
		return 0, u.updateTask(ctx, input.OwnerID, act, reply, run)

	case *model.SaveMemory:
		return 0, u.repo.PutMemory(ctx, &model.Memory{
			OwnerID:   input.OwnerID,
			AgentID:   agent.ID,
			Kind:      act.Memory,
			Content:   act.Content,
			Channel:   input.Channel,
			CreatedAt: time.Now(),
		})

	case *model.CreateKnowledgeNode:
		_, err := u.know.CreateNode(ctx, &model.KnowledgeNode{
			OwnerID:     input.OwnerID,
			AgentID:     agent.ID,
			Title:       act.Title,
			Description: act.Description,
			Content:     act.Content,
			Type:        act.NodeType,
			Tags:        act.Tags,
		})
		return 0, err

	case *model.UpdateKnowledgeNode:
		node, err := u.repo.GetNode(ctx, input.OwnerID, act.NodeID)
		if err != nil {
			return 0, goerr.Wrap(err, "failed to load node for update", goerr.V("node_id", act.NodeID))
		}
		if act.Title != "" {
			node.Title = act.Title
		}
		if act.Description != "" {
			node.Description = act.Description
		}
		if act.Content != "" {
			node.Content = act.Content
		}
		return 0, u.know.UpdateNode(ctx, node)

	case *model.LinkKnowledgeNodes:
		return 0, u.know.Link(ctx, input.OwnerID, act.FromID, act.ToID)

	case *model.SendAgentMessage:
		return u.delegate(ctx, agent, input, act)

	case *model.GenerateAudio:
		// synthesis itself is out of scope; the request is recorded so a
		// downstream channel can pick it up
		return 0, u.repo.PutMemory(ctx, &model.Memory{
			OwnerID:   input.OwnerID,
			AgentID:   agent.ID,
			Kind:      model.MemoryKindFact,
			Content:   "audio requested: " + scrubIdentifiers(act.Text),
			Channel:   input.Channel,
			CreatedAt: time.Now(),
		})

	default:
		return 0, goerr.Wrap(model.ErrUnknownAction, "unhandled action", goerr.V("kind", action.Kind()))
	}
}

// updateTask applies a status change. Terminal transitions store an outcome
// chosen by the boilerplate policy and attach the current run trace.
func (u *UseCase) updateTask(ctx context.Context, owner model.OwnerID, act *model.UpdateTask, reply string, run *model.PipelineRun) error {
	task, err := u.repo.GetTask(ctx, owner, act.TaskID)
	if err != nil {
		return goerr.Wrap(err, "failed to load task", goerr.V("task_id", act.TaskID))
	}

	task.Status = act.Status
	if act.Status.Terminal() {
		task.Outcome = chooseOutcome(reply, act.Outcome)
		now := time.Now()
		task.ResolvedAt = &now
		task.Run = run
	}
	return u.repo.PutTask(ctx, task)
}

// chooseOutcome prefers the model's visible reply over the action summary
// unless it is boilerplate, then the summary, then a fixed generic outcome.
// Either way identifier-shaped tokens are scrubbed before storage.
func chooseOutcome(reply, summary string) string {
	if !isBoilerplate(reply) {
		return scrubIdentifiers(reply)
	}
	if !isBoilerplate(summary) {
		return scrubIdentifiers(summary)
	}
	return genericOutcome
}

func isBoilerplate(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < minOutcomeLen {
		return true
	}
	lowered := strings.ToLower(strings.TrimRight(trimmed, ".!"))
	for _, phrase := range boilerplatePhrases {
		if lowered == phrase {
			return true
		}
	}
	return false
}

// scrubIdentifiers removes opaque internal ids so they never reach
// user-facing or spoken text
func scrubIdentifiers(s string) string {
	scrubbed := idTokenRe.ReplaceAllStringFunc(s, func(token string) string {
		hasLetter, hasDigit := false, false
		for _, c := range token {
			switch {
			case c >= '0' && c <= '9':
				hasDigit = true
			default:
				hasLetter = true
			}
		}
		if hasLetter && hasDigit {
			return ""
		}
		return token
	})
	return strings.Join(strings.Fields(scrubbed), " ")
}

func (u *UseCase) auditAction(ctx context.Context, input *Input, action model.Action) {
	if err := u.audit.Insert(ctx, &model.AuditRecord{
		ID:        model.NewAuditID(),
		OwnerID:   input.OwnerID,
		AgentID:   input.AgentID,
		Kind:      model.AuditKindAction,
		Channel:   input.Channel,
		Detail:    fmt.Sprintf("action=%s", action.Kind()),
		CreatedAt: time.Now(),
	}); err != nil {
		logging.From(ctx).Error("failed to write action audit record", "error", err)
	}
}
