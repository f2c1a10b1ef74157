package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/y-hosokawa/hibari/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionMemories  = "memories"
	collectionKnowledge = "knowledge_nodes"
	collectionAgents    = "agents"
	collectionAccounts  = "accounts"
	collectionTasks     = "tasks"
	collectionRetries   = "webhook_retries"

	// Firestore has no full-text index; SearchNodes ranks over a bounded
	// candidate scan of the owner's newest nodes
	searchScanLimit = 500
)

var ErrNotFound = goerr.New("record not found")

// Firestore implements Repository on Cloud Firestore
type Firestore struct {
	client *firestore.Client
}

// New creates a Firestore-backed repository
func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}
	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) PutMemory(ctx context.Context, memory *model.Memory) error {
	if memory.ID == "" {
		memory.ID = model.NewMemoryID()
	}
	doc := r.client.Collection(collectionMemories).Doc(string(memory.ID))
	if _, err := doc.Set(ctx, memory); err != nil {
		return goerr.Wrap(err, "failed to put memory", goerr.V("memory_id", memory.ID))
	}
	return nil
}

func (r *Firestore) ListRecentMemories(ctx context.Context, owner model.OwnerID, agent model.AgentID, limit int) ([]*model.Memory, error) {
	q := r.client.Collection(collectionMemories).
		Where("OwnerID", "==", string(owner)).
		Where("Kind", "==", string(model.MemoryKindConversation)).
		Where("Archived", "==", false)
	if agent != "" {
		q = q.Where("AgentID", "==", string(agent))
	}
	q = q.OrderBy("CreatedAt", firestore.Desc).Limit(limit)

	return r.iterateMemories(ctx, q)
}

func (r *Firestore) SearchSimilarMemories(ctx context.Context, owner model.OwnerID, embedding firestore.Vector32, limit int) ([]*model.Memory, error) {
	vq := r.client.Collection(collectionMemories).
		Where("OwnerID", "==", string(owner)).
		FindNearest("Embedding", embedding, limit, firestore.DistanceMeasureCosine, nil)

	it := vq.Documents(ctx)
	defer it.Stop()

	var memories []*model.Memory
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search similar memories")
		}
		var m model.Memory
		if err := doc.DataTo(&m); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory")
		}
		memories = append(memories, &m)
	}
	return memories, nil
}

func (r *Firestore) ListThreadMemories(ctx context.Context, owner model.OwnerID, threadID string, limit int) ([]*model.Memory, error) {
	q := r.client.Collection(collectionMemories).
		Where("OwnerID", "==", string(owner)).
		Where("ThreadID", "==", threadID).
		OrderBy("CreatedAt", firestore.Asc).Limit(limit)

	return r.iterateMemories(ctx, q)
}

func (r *Firestore) FindMemoryByProviderMessage(ctx context.Context, provider, threadID, messageID string) (*model.Memory, error) {
	q := r.client.Collection(collectionMemories).
		Where("ProviderThreadID", "==", provider+":"+threadID).
		Where("ProviderMessageID", "==", provider+":"+messageID).
		Limit(1)

	memories, err := r.iterateMemories(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, nil
	}
	return memories[0], nil
}

func (r *Firestore) iterateMemories(ctx context.Context, q firestore.Query) ([]*model.Memory, error) {
	it := q.Documents(ctx)
	defer it.Stop()

	var memories []*model.Memory
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memories")
		}
		var m model.Memory
		if err := doc.DataTo(&m); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory")
		}
		memories = append(memories, &m)
	}
	return memories, nil
}

func (r *Firestore) PutNode(ctx context.Context, node *model.KnowledgeNode) error {
	if node.ID == "" {
		node.ID = model.NewNodeID()
	}
	node.UpdatedAt = time.Now()
	doc := r.client.Collection(collectionKnowledge).Doc(string(node.ID))
	if _, err := doc.Set(ctx, node); err != nil {
		return goerr.Wrap(err, "failed to put knowledge node", goerr.V("node_id", node.ID))
	}
	return nil
}

func (r *Firestore) GetNode(ctx context.Context, owner model.OwnerID, id model.NodeID) (*model.KnowledgeNode, error) {
	doc, err := r.client.Collection(collectionKnowledge).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "knowledge node not found", goerr.V("node_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get knowledge node", goerr.V("node_id", id))
	}

	var node model.KnowledgeNode
	if err := doc.DataTo(&node); err != nil {
		return nil, goerr.Wrap(err, "failed to decode knowledge node")
	}
	if node.OwnerID != owner {
		return nil, goerr.Wrap(ErrNotFound, "knowledge node not found", goerr.V("node_id", id))
	}
	return &node, nil
}

func (r *Firestore) SearchNodes(ctx context.Context, owner model.OwnerID, query string, limit int) ([]*model.KnowledgeNode, error) {
	q := r.client.Collection(collectionKnowledge).
		Where("OwnerID", "==", string(owner)).
		OrderBy("UpdatedAt", firestore.Desc).
		Limit(searchScanLimit)

	it := q.Documents(ctx)
	defer it.Stop()

	terms := tokenize(query)

	type scored struct {
		node  *model.KnowledgeNode
		score int
		order int
	}
	var candidates []scored

	order := 0
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan knowledge nodes")
		}
		var node model.KnowledgeNode
		if err := doc.DataTo(&node); err != nil {
			return nil, goerr.Wrap(err, "failed to decode knowledge node")
		}
		if score := matchScore(&node, terms); score > 0 {
			candidates = append(candidates, scored{node: &node, score: score, order: order})
		}
		order++
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	nodes := make([]*model.KnowledgeNode, len(candidates))
	for i, c := range candidates {
		nodes[i] = c.node
	}
	return nodes, nil
}

func (r *Firestore) ListMOCNodes(ctx context.Context, owner model.OwnerID) ([]*model.KnowledgeNode, error) {
	q := r.client.Collection(collectionKnowledge).
		Where("OwnerID", "==", string(owner)).
		Where("Type", "==", string(model.NodeTypeMOC))

	it := q.Documents(ctx)
	defer it.Stop()

	var nodes []*model.KnowledgeNode
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list moc nodes")
		}
		var node model.KnowledgeNode
		if err := doc.DataTo(&node); err != nil {
			return nil, goerr.Wrap(err, "failed to decode knowledge node")
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

func (r *Firestore) DeleteNode(ctx context.Context, owner model.OwnerID, id model.NodeID) error {
	if _, err := r.GetNode(ctx, owner, id); err != nil {
		return err
	}
	if _, err := r.client.Collection(collectionKnowledge).Doc(string(id)).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete knowledge node", goerr.V("node_id", id))
	}
	return nil
}

func (r *Firestore) GetAgent(ctx context.Context, id model.AgentID) (*model.Agent, error) {
	doc, err := r.client.Collection(collectionAgents).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "agent not found", goerr.V("agent_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get agent", goerr.V("agent_id", id))
	}

	var agent model.Agent
	if err := doc.DataTo(&agent); err != nil {
		return nil, goerr.Wrap(err, "failed to decode agent")
	}
	return &agent, nil
}

func (r *Firestore) PutAgent(ctx context.Context, agent *model.Agent) error {
	if agent.ID == "" {
		agent.ID = model.NewAgentID()
	}
	agent.UpdatedAt = time.Now()
	if _, err := r.client.Collection(collectionAgents).Doc(string(agent.ID)).Set(ctx, agent); err != nil {
		return goerr.Wrap(err, "failed to put agent", goerr.V("agent_id", agent.ID))
	}
	return nil
}

func (r *Firestore) GetAccount(ctx context.Context, id model.OwnerID) (*model.Account, error) {
	doc, err := r.client.Collection(collectionAccounts).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "account not found", goerr.V("owner_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get account", goerr.V("owner_id", id))
	}

	var account model.Account
	if err := doc.DataTo(&account); err != nil {
		return nil, goerr.Wrap(err, "failed to decode account")
	}
	return &account, nil
}

func (r *Firestore) PutAccount(ctx context.Context, account *model.Account) error {
	if _, err := r.client.Collection(collectionAccounts).Doc(string(account.ID)).Set(ctx, account); err != nil {
		return goerr.Wrap(err, "failed to put account", goerr.V("owner_id", account.ID))
	}
	return nil
}

func (r *Firestore) PutTask(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = model.NewTaskID()
	}
	task.UpdatedAt = time.Now()
	if _, err := r.client.Collection(collectionTasks).Doc(string(task.ID)).Set(ctx, task); err != nil {
		return goerr.Wrap(err, "failed to put task", goerr.V("task_id", task.ID))
	}
	return nil
}

func (r *Firestore) GetTask(ctx context.Context, owner model.OwnerID, id model.TaskID) (*model.Task, error) {
	doc, err := r.client.Collection(collectionTasks).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "task not found", goerr.V("task_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get task", goerr.V("task_id", id))
	}

	var task model.Task
	if err := doc.DataTo(&task); err != nil {
		return nil, goerr.Wrap(err, "failed to decode task")
	}
	if task.OwnerID != owner {
		return nil, goerr.Wrap(ErrNotFound, "task not found", goerr.V("task_id", id))
	}
	return &task, nil
}

func (r *Firestore) PutWebhookRetry(ctx context.Context, retry *model.WebhookRetry) error {
	if retry.ID == "" {
		retry.ID = model.NewRetryID()
	}
	retry.UpdatedAt = time.Now()
	if _, err := r.client.Collection(collectionRetries).Doc(string(retry.ID)).Set(ctx, retry); err != nil {
		return goerr.Wrap(err, "failed to put webhook retry", goerr.V("retry_id", retry.ID))
	}
	return nil
}

func (r *Firestore) ListDueWebhookRetries(ctx context.Context, provider string, now time.Time) ([]*model.WebhookRetry, error) {
	q := r.client.Collection(collectionRetries).
		Where("Provider", "==", provider).
		Where("Status", "==", string(model.RetryStatusPending)).
		Where("NextAttempt", "<=", now).
		OrderBy("NextAttempt", firestore.Asc)

	it := q.Documents(ctx)
	defer it.Stop()

	var retries []*model.WebhookRetry
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list due webhook retries")
		}
		var retry model.WebhookRetry
		if err := doc.DataTo(&retry); err != nil {
			return nil, goerr.Wrap(err, "failed to decode webhook retry")
		}
		retries = append(retries, &retry)
	}
	return retries, nil
}

// tokenize lowercases and splits a query into search terms
func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var terms []string
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// matchScore counts term occurrences across title, description and content,
// weighting title matches highest
func matchScore(node *model.KnowledgeNode, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	title := strings.ToLower(node.Title)
	desc := strings.ToLower(node.Description)
	content := strings.ToLower(node.Content)

	score := 0
	for _, term := range terms {
		score += strings.Count(title, term) * 4
		score += strings.Count(desc, term) * 2
		score += strings.Count(content, term)
	}
	return score
}
