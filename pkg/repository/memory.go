package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/y-hosokawa/hibari/pkg/model"
)

// Memory is an in-process Repository for tests and local development.
// Vector search is an exact cosine scan, which is fine at test scale.
type Memory struct {
	mu       sync.RWMutex
	memories []*model.Memory
	nodes    map[model.NodeID]*model.KnowledgeNode
	agents   map[model.AgentID]*model.Agent
	accounts map[model.OwnerID]*model.Account
	tasks    map[model.TaskID]*model.Task
	retries  map[model.RetryID]*model.WebhookRetry
}

// NewMemory creates an empty in-process repository
func NewMemory() *Memory {
	return &Memory{
		nodes:    make(map[model.NodeID]*model.KnowledgeNode),
		agents:   make(map[model.AgentID]*model.Agent),
		accounts: make(map[model.OwnerID]*model.Account),
		tasks:    make(map[model.TaskID]*model.Task),
		retries:  make(map[model.RetryID]*model.WebhookRetry),
	}
}

func (r *Memory) PutMemory(ctx context.Context, memory *model.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if memory.ID == "" {
		memory.ID = model.NewMemoryID()
	}
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now()
	}
	cp := *memory
	r.memories = append(r.memories, &cp)
	return nil
}

func (r *Memory) ListRecentMemories(ctx context.Context, owner model.OwnerID, agent model.AgentID, limit int) ([]*model.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Memory
	for _, m := range r.memories {
		if m.OwnerID != owner || m.Kind != model.MemoryKindConversation || m.Archived {
			continue
		}
		if agent != "" && m.AgentID != agent {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Memory) SearchSimilarMemories(ctx context.Context, owner model.OwnerID, embedding firestore.Vector32, limit int) ([]*model.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		memory *model.Memory
		sim    float64
	}
	var candidates []scored
	for _, m := range r.memories {
		if m.OwnerID != owner || len(m.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{memory: m, sim: cosine(embedding, m.Embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].sim > candidates[j].sim
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*model.Memory, len(candidates))
	for i, c := range candidates {
		out[i] = c.memory
	}
	return out, nil
}

func (r *Memory) ListThreadMemories(ctx context.Context, owner model.OwnerID, threadID string, limit int) ([]*model.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Memory
	for _, m := range r.memories {
		if m.OwnerID == owner && m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Memory) FindMemoryByProviderMessage(ctx context.Context, provider, threadID, messageID string) (*model.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.memories {
		if m.ProviderThreadID == provider+":"+threadID && m.ProviderMessageID == provider+":"+messageID {
			return m, nil
		}
	}
	return nil, nil
}

func (r *Memory) PutNode(ctx context.Context, node *model.KnowledgeNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node.ID == "" {
		node.ID = model.NewNodeID()
	}
	node.UpdatedAt = time.Now()
	cp := *node
	cp.Links = append([]model.NodeID(nil), node.Links...)
	cp.Tags = append([]string(nil), node.Tags...)
	r.nodes[node.ID] = &cp
	return nil
}

func (r *Memory) GetNode(ctx context.Context, owner model.OwnerID, id model.NodeID) (*model.KnowledgeNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[id]
	if !ok || node.OwnerID != owner {
		return nil, goerr.Wrap(ErrNotFound, "knowledge node not found", goerr.V("node_id", id))
	}
	cp := *node
	cp.Links = append([]model.NodeID(nil), node.Links...)
	return &cp, nil
}

func (r *Memory) SearchNodes(ctx context.Context, owner model.OwnerID, query string, limit int) ([]*model.KnowledgeNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	terms := tokenize(query)

	type scored struct {
		node  *model.KnowledgeNode
		score int
	}
	var candidates []scored
	ids := make([]model.NodeID, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		node := r.nodes[id]
		if node.OwnerID != owner {
			continue
		}
		if score := matchScore(node, terms); score > 0 {
			candidates = append(candidates, scored{node: node, score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*model.KnowledgeNode, len(candidates))
	for i, c := range candidates {
		cp := *c.node
		cp.Links = append([]model.NodeID(nil), c.node.Links...)
		out[i] = &cp
	}
	return out, nil
}

func (r *Memory) ListMOCNodes(ctx context.Context, owner model.OwnerID) ([]*model.KnowledgeNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.KnowledgeNode
	for _, node := range r.nodes {
		if node.OwnerID == owner && node.Type == model.NodeTypeMOC {
			cp := *node
			cp.Links = append([]model.NodeID(nil), node.Links...)
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Memory) DeleteNode(ctx context.Context, owner model.OwnerID, id model.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok || node.OwnerID != owner {
		return goerr.Wrap(ErrNotFound, "knowledge node not found", goerr.V("node_id", id))
	}
	delete(r.nodes, id)
	return nil
}

func (r *Memory) GetAgent(ctx context.Context, id model.AgentID) (*model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "agent not found", goerr.V("agent_id", id))
	}
	cp := *agent
	return &cp, nil
}

func (r *Memory) PutAgent(ctx context.Context, agent *model.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent.ID == "" {
		agent.ID = model.NewAgentID()
	}
	agent.UpdatedAt = time.Now()
	cp := *agent
	r.agents[agent.ID] = &cp
	return nil
}

func (r *Memory) GetAccount(ctx context.Context, id model.OwnerID) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "account not found", goerr.V("owner_id", id))
	}
	cp := *account
	return &cp, nil
}

func (r *Memory) PutAccount(ctx context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *account
	r.accounts[account.ID] = &cp
	return nil
}

func (r *Memory) PutTask(ctx context.Context, task *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.ID == "" {
		task.ID = model.NewTaskID()
	}
	task.UpdatedAt = time.Now()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *Memory) GetTask(ctx context.Context, owner model.OwnerID, id model.TaskID) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok || task.OwnerID != owner {
		return nil, goerr.Wrap(ErrNotFound, "task not found", goerr.V("task_id", id))
	}
	cp := *task
	return &cp, nil
}

func (r *Memory) PutWebhookRetry(ctx context.Context, retry *model.WebhookRetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if retry.ID == "" {
		retry.ID = model.NewRetryID()
	}
	retry.UpdatedAt = time.Now()
	cp := *retry
	cp.RawPayload = append([]byte(nil), retry.RawPayload...)
	r.retries[retry.ID] = &cp
	return nil
}

func (r *Memory) ListDueWebhookRetries(ctx context.Context, provider string, now time.Time) ([]*model.WebhookRetry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.WebhookRetry
	for _, retry := range r.retries {
		if retry.Provider == provider && retry.Due(now) {
			cp := *retry
			cp.RawPayload = append([]byte(nil), retry.RawPayload...)
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NextAttempt.Before(out[j].NextAttempt)
	})
	return out, nil
}

// Tasks returns every stored task, used by tests
func (r *Memory) Tasks() []*model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		cp := *task
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Memories returns every stored memory record, used by tests
func (r *Memory) Memories() []*model.Memory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Memory, 0, len(r.memories))
	for _, m := range r.memories {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// Retries returns every stored webhook retry record, used by tests
func (r *Memory) Retries() []*model.WebhookRetry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.WebhookRetry, 0, len(r.retries))
	for _, retry := range r.retries {
		cp := *retry
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MemoryCount reports stored memory records, used by tests
func (r *Memory) MemoryCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.memories)
}

// ThreadMemoryCount reports stored memories for a thread id across all
// owners, used by hop-ceiling tests
func (r *Memory) ThreadMemoryCount(threadID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.memories {
		if m.ThreadID == threadID {
			n++
		}
	}
	return n
}

func cosine(a, b firestore.Vector32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
