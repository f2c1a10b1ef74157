package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/y-hosokawa/hibari/pkg/adapter"
	"github.com/y-hosokawa/hibari/pkg/gateway"
	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/repository"
	"github.com/y-hosokawa/hibari/pkg/usecase/pipeline"
)

func seedDelegatingAgent(t *testing.T, repo *repository.Memory, id model.AgentID, modelName string, maxHops int) *model.Agent {
	t.Helper()
	agent := &model.Agent{
		ID:                id,
		OwnerID:           testOwner,
		Name:              string(id),
		Provider:          model.ProviderGemini,
		Model:             modelName,
		DelegationEnabled: true,
		AllowInitiate:     true,
		MaxAutoReplyHops:  maxHops,
	}
	gt.NoError(t, repo.PutAgent(context.Background(), agent))
	return agent
}

func TestDelegationSymmetricMemories(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seedDelegatingAgent(t, repo, "agent-a", "model-a", 2)
	seedDelegatingAgent(t, repo, "agent-b", "model-b", 2)

	uc := newTestPipeline(t, repo, map[string]string{
		"model-a": `Asking the research agent.
<app_actions>[{"type": "send_agent_message", "to_agent_id": "agent-b", "message": "summarize the latest report"}]</app_actions>`,
		"model-b": "Here is the summary you asked for.",
	})

	result, err := uc.ProcessMessage(ctx, &pipeline.Input{
		OwnerID: testOwner,
		AgentID: "agent-a",
		Message: "get a summary from the research agent",
		Channel: model.ChannelAPI,
	})
	gt.NoError(t, err)
	gt.Equal(t, result.Response, "Asking the research agent.")
	// delegated run tokens are accounted to the caller
	gt.Equal(t, result.TokensUsed, 20)

	threadID := model.ThreadID("agent-a", "agent-b")
	// request and response, each recorded on both sides
	gt.Equal(t, repo.ThreadMemoryCount(threadID), 4)

	inbound, outbound := 0, 0
	for _, m := range repo.Memories() {
		if m.ThreadID != threadID {
			continue
		}
		gt.Equal(t, m.HopCount, 1)
		gt.Equal(t, m.Channel, model.ChannelAgent)
		switch m.Direction {
		case model.MemoryDirectionInbound:
			inbound++
		case model.MemoryDirectionOutbound:
			outbound++
		}
	}
	gt.Equal(t, inbound, 2)
	gt.Equal(t, outbound, 2)
}

func TestDelegationHopCeiling(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seedDelegatingAgent(t, repo, "agent-a", "model-a", 2)
	seedDelegatingAgent(t, repo, "agent-b", "model-b", 2)

	// each agent always answers by delegating back to the other
	uc := newTestPipeline(t, repo, map[string]string{
		"model-a": `ping
<app_actions>[{"type": "send_agent_message", "to_agent_id": "agent-b", "message": "your turn"}]</app_actions>`,
		"model-b": `pong
<app_actions>[{"type": "send_agent_message", "to_agent_id": "agent-a", "message": "your turn"}]</app_actions>`,
	})

	_, err := uc.ProcessMessage(ctx, &pipeline.Input{
		OwnerID: testOwner,
		AgentID: "agent-a",
		Message: "start",
		Channel: model.ChannelAPI,
	})
	// the hop 3 refusal is terminal and surfaces through the whole chain
	gt.Error(t, err)
	gt.True(t, errors.Is(err, pipeline.ErrDelegationLoop))

	threadID := model.ThreadID("agent-a", "agent-b")
	// the hop 1 and hop 2 requests were recorded before the refusal; no
	// response or hop 3 memory was written
	gt.Equal(t, repo.ThreadMemoryCount(threadID), 4)
	for _, m := range repo.Memories() {
		gt.True(t, m.HopCount <= 2)
	}
}

// captureChat records every request so tests can inspect the assembled
// context of delegated runs
type captureChat struct {
	replies  map[string]string
	requests []*adapter.ChatRequest
}

func (c *captureChat) Generate(_ context.Context, req *adapter.ChatRequest) (*adapter.ChatResponse, error) {
	c.requests = append(c.requests, req)
	return &adapter.ChatResponse{Content: c.replies[req.Model], TokensUsed: 10}, nil
}

func TestDelegationThreadTranscriptInContext(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seedDelegatingAgent(t, repo, "agent-a", "model-a", 2)
	seedDelegatingAgent(t, repo, "agent-b", "model-b", 2)

	// an earlier exchange already sits on the thread, recipient side
	threadID := model.ThreadID("agent-a", "agent-b")
	past := time.Now().Add(-time.Hour)
	gt.NoError(t, repo.PutMemory(ctx, &model.Memory{
		OwnerID:     testOwner,
		AgentID:     "agent-b",
		Kind:        model.MemoryKindConversation,
		Content:     "earlier question",
		Channel:     model.ChannelAgent,
		ThreadID:    threadID,
		PeerAgentID: "agent-a",
		Direction:   model.MemoryDirectionInbound,
		HopCount:    1,
		CreatedAt:   past,
	}))
	gt.NoError(t, repo.PutMemory(ctx, &model.Memory{
		OwnerID:     testOwner,
		AgentID:     "agent-b",
		Kind:        model.MemoryKindConversation,
		Content:     "earlier answer",
		Channel:     model.ChannelAgent,
		ThreadID:    threadID,
		PeerAgentID: "agent-a",
		Direction:   model.MemoryDirectionOutbound,
		HopCount:    1,
		CreatedAt:   past.Add(time.Minute),
	}))

	chat := &captureChat{replies: map[string]string{
		"model-a": `Checking with the peer.
<app_actions>[{"type": "send_agent_message", "to_agent_id": "agent-b", "message": "what changed since last time"}]</app_actions>`,
		"model-b": "Nothing changed.",
	}}
	gw := gateway.NewWithAdapters(map[model.Provider]adapter.Chat{
		model.ProviderGemini: chat,
	}, &stubEmbedder{})
	vault := adapter.NewStaticVault(map[model.Provider]string{
		model.ProviderGemini: "test-key",
	})
	uc := gt.R1(pipeline.New(ctx, repo, gw, vault)).NoError(t)

	_, err := uc.ProcessMessage(ctx, &pipeline.Input{
		OwnerID: testOwner,
		AgentID: "agent-a",
		Message: "ask the peer for an update",
		Channel: model.ChannelAPI,
	})
	gt.NoError(t, err)

	var delegated *adapter.ChatRequest
	for _, req := range chat.requests {
		if req.Model == "model-b" {
			delegated = req
		}
	}
	gt.V(t, delegated).NotNil()

	// the prior exchange is replayed with directional roles, and the current
	// message appears exactly once, as the final user turn
	sawAnswer, currentTurns := false, 0
	for _, m := range delegated.Messages {
		if m.Content == "earlier answer" {
			gt.Equal(t, m.Role, adapter.RoleAssistant)
			sawAnswer = true
		}
		if m.Content == "what changed since last time" {
			currentTurns++
		}
	}
	gt.True(t, sawAnswer)
	gt.Equal(t, currentTurns, 1)
	gt.Equal(t, delegated.Messages[len(delegated.Messages)-1].Content, "what changed since last time")
}

func TestDelegationDeniedWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seedDelegatingAgent(t, repo, "agent-a", "model-a", 2)
	recipient := seedDelegatingAgent(t, repo, "agent-b", "model-b", 2)
	recipient.DelegationEnabled = false
	gt.NoError(t, repo.PutAgent(ctx, recipient))

	uc := newTestPipeline(t, repo, map[string]string{
		"model-a": `Trying anyway.
<app_actions>[{"type": "send_agent_message", "to_agent_id": "agent-b", "message": "hello"}]</app_actions>`,
		"model-b": "should never run",
	})

	result, err := uc.ProcessMessage(ctx, &pipeline.Input{
		OwnerID: testOwner,
		AgentID: "agent-a",
		Message: "delegate this",
		Channel: model.ChannelAPI,
	})
	gt.NoError(t, err)
	gt.Equal(t, result.Response, "Trying anyway.")

	threadID := model.ThreadID("agent-a", "agent-b")
	gt.Equal(t, repo.ThreadMemoryCount(threadID), 0)
}
