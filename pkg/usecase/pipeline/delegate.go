package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

var (
	// ErrDelegationLoop is terminal: the hop ceiling was reached and the
	// message is not forwarded
	ErrDelegationLoop = goerr.New("delegation hop ceiling exceeded")

	// ErrDelegationDenied means the eligibility policy rejected the pair
	ErrDelegationDenied = goerr.New("delegation denied by policy")
)

// delegate forwards a message to another agent and runs the recipient's
// pipeline as an independent hop. Memories are written symmetrically: the
// sender logs outbound, the recipient logs inbound, so each side keeps its
// own directional transcript. The hop ceiling is checked before anything is
// written.
func (u *UseCase) delegate(ctx context.Context, sender *model.Agent, input *Input, act *model.SendAgentMessage) (int, error) {
	recipient, err := u.repo.GetAgent(ctx, act.ToAgentID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to load recipient agent", goerr.V("agent_id", act.ToAgentID))
	}

	var recipientAccount *model.Account
	if account, err := u.repo.GetAccount(ctx, recipient.OwnerID); err == nil {
		recipientAccount = account
	}

	decision, err := u.policy.Evaluate(ctx, sender, recipient, recipientAccount)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to evaluate delegation policy")
	}
	if !decision.Allow {
		return 0, goerr.Wrap(ErrDelegationDenied, strings.Join(decision.Reasons, "; "),
			goerr.V("sender", sender.ID),
			goerr.V("recipient", recipient.ID),
		)
	}

	nextHop := input.HopCount + 1
	if nextHop > recipient.MaxAutoReplyHops {
		return 0, goerr.Wrap(ErrDelegationLoop, "refusing to forward",
			goerr.V("hop", nextHop),
			goerr.V("max", recipient.MaxAutoReplyHops),
			goerr.V("recipient", recipient.ID),
		)
	}

	threadID := model.ThreadID(sender.ID, recipient.ID)
	u.recordExchange(ctx, sender, recipient, threadID, act.Message, nextHop)

	result, err := u.ProcessMessage(ctx, &Input{
		OwnerID:  recipient.OwnerID,
		AgentID:  recipient.ID,
		Message:  act.Message,
		Channel:  model.ChannelAgent,
		CallerID: string(sender.ID),
		HopCount: nextHop,
	})
	if err != nil {
		return 0, goerr.Wrap(err, "delegated run failed", goerr.V("recipient", recipient.ID))
	}

	u.recordExchange(ctx, recipient, sender, threadID, result.Response, nextHop)
	u.auditDelegation(ctx, sender, recipient, nextHop)

	return result.TokensUsed, nil
}

// recordExchange writes one message symmetrically: outbound on the from
// side, inbound on the to side
func (u *UseCase) recordExchange(ctx context.Context, from, to *model.Agent, threadID, content string, hop int) {
	now := time.Now()
	pairs := []struct {
		owner     model.OwnerID
		agent     model.AgentID
		peer      model.AgentID
		direction model.MemoryDirection
	}{
		{from.OwnerID, from.ID, to.ID, model.MemoryDirectionOutbound},
		{to.OwnerID, to.ID, from.ID, model.MemoryDirectionInbound},
	}
	for _, p := range pairs {
		if err := u.repo.PutMemory(ctx, &model.Memory{
			OwnerID:     p.owner,
			AgentID:     p.agent,
			Kind:        model.MemoryKindConversation,
			Content:     content,
			Channel:     model.ChannelAgent,
			ThreadID:    threadID,
			PeerAgentID: p.peer,
			Direction:   p.direction,
			HopCount:    hop,
			CreatedAt:   now,
		}); err != nil {
			logging.From(ctx).Error("failed to record delegation memory",
				"direction", p.direction, "thread_id", threadID, "error", err)
		}
	}
}

func (u *UseCase) auditDelegation(ctx context.Context, sender, recipient *model.Agent, hop int) {
	if err := u.audit.Insert(ctx, &model.AuditRecord{
		ID:        model.NewAuditID(),
		OwnerID:   sender.OwnerID,
		AgentID:   sender.ID,
		Kind:      model.AuditKindDelegation,
		Channel:   model.ChannelAgent,
		Detail:    fmt.Sprintf("delegated to %s at hop %d", recipient.ID, hop),
		CreatedAt: time.Now(),
	}); err != nil {
		logging.From(ctx).Error("failed to write delegation audit record", "error", err)
	}
}
