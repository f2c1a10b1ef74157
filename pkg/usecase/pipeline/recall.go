package pipeline

import (
	"context"
	"sync"

	"cloud.google.com/go/firestore"

	"github.com/y-hosokawa/hibari/pkg/gateway"
	"github.com/y-hosokawa/hibari/pkg/knowledge"
	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

// contextParts holds the independent reads that feed the assembler
type contextParts struct {
	recency   []*model.Memory
	semantic  []*model.Memory
	thread    []*model.Memory
	nodes     []*model.RecalledNode
	embedding firestore.Vector32
}

// gatherContext runs the recency load, semantic recall, and knowledge recall
// concurrently; delegated messages additionally load the A2A thread
// transcript. Every branch is best-effort: a failure degrades that branch
// to empty and is only logged.
func (u *UseCase) gatherContext(ctx context.Context, input *Input, agent *model.Agent, query string) *contextParts {
	parts := &contextParts{}
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		recent, err := u.repo.ListRecentMemories(ctx, input.OwnerID, agent.ID, recencyWindow)
		if err != nil {
			logging.From(ctx).Warn("recency load failed", "error", err)
			return
		}
		parts.recency = recent
	}()

	go func() {
		defer wg.Done()
		embedding, memories := u.semanticRecall(ctx, input.OwnerID, query)
		parts.embedding = embedding
		parts.semantic = memories
	}()

	go func() {
		defer wg.Done()
		nodes, err := u.know.Recall(ctx, input.OwnerID, agent.ID, query, knowledge.DefaultMaxNodes)
		if err != nil {
			logging.From(ctx).Warn("knowledge recall failed", "error", err)
			return
		}
		parts.nodes = nodes
	}()

	var threadID string
	if input.Channel == model.ChannelAgent && input.CallerID != "" {
		threadID = model.ThreadID(agent.ID, model.AgentID(input.CallerID))
		wg.Add(1)
		go func() {
			defer wg.Done()
			transcript, err := u.repo.ListThreadMemories(ctx, input.OwnerID, threadID, recencyWindow)
			if err != nil {
				logging.From(ctx).Warn("thread transcript load failed",
					"thread_id", threadID, "error", err)
				return
			}
			// keep only this agent's side; the peer keeps its own mirror
			for _, m := range transcript {
				if m.AgentID == agent.ID {
					parts.thread = append(parts.thread, m)
				}
			}
		}()
	}

	wg.Wait()

	// the transcript leg replays the active thread with directional roles,
	// so the recency leg drops its copies of the same thread
	if threadID != "" {
		recent := make([]*model.Memory, 0, len(parts.recency))
		for _, m := range parts.recency {
			if m.ThreadID != threadID {
				recent = append(recent, m)
			}
		}
		parts.recency = recent
	}
	return parts
}

// semanticRecall embeds the query and searches similar memories. A missing
// embedding credential or provider failure degrades to recency-only context.
func (u *UseCase) semanticRecall(ctx context.Context, owner model.OwnerID, query string) (firestore.Vector32, []*model.Memory) {
	cred, err := u.vault.GetDecryptedAPIKey(ctx, owner, model.ProviderGemini)
	if err != nil {
		logging.From(ctx).Debug("no embedding credential, skipping semantic recall", "error", err)
		return nil, nil
	}

	vector, err := u.gw.Embed(ctx, &gateway.EmbedRequest{APIKey: cred.APIKey, Text: query})
	if err != nil {
		logging.From(ctx).Warn("embedding failed, skipping semantic recall", "error", err)
		return nil, nil
	}

	embedding := firestore.Vector32(vector)
	memories, err := u.repo.SearchSimilarMemories(ctx, owner, embedding, semanticRecallLimit)
	if err != nil {
		logging.From(ctx).Warn("similarity search failed", "error", err)
		return embedding, nil
	}
	return embedding, memories
}
