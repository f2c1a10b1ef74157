package knowledge_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/y-hosokawa/hibari/pkg/knowledge"
	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/repository"
)

const testOwner = model.OwnerID("owner-1")

func seedNode(t *testing.T, repo *repository.Memory, node *model.KnowledgeNode) *model.KnowledgeNode {
	t.Helper()
	node.OwnerID = testOwner
	if node.Type == "" {
		node.Type = model.NodeTypeConcept
	}
	gt.NoError(t, repo.PutNode(context.Background(), node))
	return node
}

func TestRecallSearchAndTraversal(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	linked := seedNode(t, repo, &model.KnowledgeNode{
		Title:       "Channel pitfalls",
		Description: "Common channel mistakes",
		Content:     "closing twice, nil sends",
	})
	seedNode(t, repo, &model.KnowledgeNode{
		Title:       "Goroutine patterns",
		Description: "Worker pools and pipelines",
		Content:     "concurrency patterns for fan-out and fan-in",
		Links:       []model.NodeID{linked.ID},
	})

	result, err := engine.Recall(ctx, testOwner, "", "concurrency patterns", 10)
	gt.NoError(t, err)
	gt.Equal(t, len(result), 2)

	gt.Equal(t, result[0].Node.Title, "Goroutine patterns")
	gt.Equal(t, result[0].Source, model.RecallSourceSearch)
	gt.True(t, result[0].FullContent)
	gt.True(t, result[0].Score > 0)

	gt.Equal(t, result[1].Node.ID, linked.ID)
	gt.Equal(t, result[1].Source, model.RecallSourceTraversal)
	gt.False(t, result[1].FullContent)
	gt.Equal(t, result[1].Score, 0.0)
}

func TestRecallTopThreeGetFullContent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	for i := 0; i < 5; i++ {
		node := seedNode(t, repo, &model.KnowledgeNode{
			Title:   fmt.Sprintf("database note %d", i),
			Content: "database indexing",
		})
		// repeat the term so earlier nodes rank higher
		for j := 0; j < 5-i; j++ {
			node.Content += " database"
		}
		gt.NoError(t, repo.PutNode(ctx, node))
	}

	result, err := engine.Recall(ctx, testOwner, "", "database", 10)
	gt.NoError(t, err)
	gt.Equal(t, len(result), 5)

	for i, r := range result {
		gt.Equal(t, r.FullContent, i < 3)
		gt.Equal(t, r.Source, model.RecallSourceSearch)
	}
	gt.True(t, result[0].Score > result[4].Score)
}

func TestRecallMOCBoost(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	hit := seedNode(t, repo, &model.KnowledgeNode{
		Title:   "TLS handshake",
		Content: "tls certificate verification flow",
	})
	moc := seedNode(t, repo, &model.KnowledgeNode{
		Title: "Networking index",
		Type:  model.NodeTypeMOC,
		Links: []model.NodeID{hit.ID},
	})
	seedNode(t, repo, &model.KnowledgeNode{
		Title: "Unrelated index",
		Type:  model.NodeTypeMOC,
	})

	result, err := engine.Recall(ctx, testOwner, "", "tls certificate", 10)
	gt.NoError(t, err)

	var mocHit *model.RecalledNode
	for _, r := range result {
		if r.Node.ID == moc.ID {
			mocHit = r
		}
		gt.True(t, r.Node.Title != "Unrelated index")
	}
	gt.V(t, mocHit).NotNil()
	gt.Equal(t, mocHit.Source, model.RecallSourceMOC)
	gt.Equal(t, mocHit.Score, 1.0)
	gt.True(t, mocHit.FullContent)
}

func TestRecallMOCFullContentOnEveryPath(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	moc := seedNode(t, repo, &model.KnowledgeNode{
		Title:       "Incident response index",
		Type:        model.NodeTypeMOC,
		Description: "Entry point for incident notes",
		Content:     "links every runbook and postmortem",
	})
	seedNode(t, repo, &model.KnowledgeNode{
		Title:   "Paging runbook",
		Content: "escalation steps for paging incidents",
		Links:   []model.NodeID{moc.ID},
	})

	// the moc enters via one-hop traversal, not the moc boost pass
	result, err := engine.Recall(ctx, testOwner, "", "paging incidents", 10)
	gt.NoError(t, err)

	var mocHit *model.RecalledNode
	for _, r := range result {
		if r.Node.ID == moc.ID {
			mocHit = r
		}
	}
	gt.V(t, mocHit).NotNil()
	gt.Equal(t, mocHit.Source, model.RecallSourceTraversal)
	gt.True(t, mocHit.FullContent)
}

func TestRecallMOCSearchHitBelowTopThreeKeepsFullContent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	for i := 0; i < 3; i++ {
		node := seedNode(t, repo, &model.KnowledgeNode{
			Title:   fmt.Sprintf("deploy note %d", i),
			Content: "deploy checklist",
		})
		for j := 0; j < 3-i; j++ {
			node.Content += " deploy"
		}
		gt.NoError(t, repo.PutNode(ctx, node))
	}
	moc := seedNode(t, repo, &model.KnowledgeNode{
		Title:   "Deploy index",
		Type:    model.NodeTypeMOC,
		Content: "deploy",
	})

	result, err := engine.Recall(ctx, testOwner, "", "deploy", 10)
	gt.NoError(t, err)
	gt.Equal(t, len(result), 4)

	for _, r := range result {
		if r.Node.ID == moc.ID {
			gt.Equal(t, r.Source, model.RecallSourceSearch)
			gt.True(t, r.FullContent)
		}
	}
}

func TestRecallTruncatesToMaxNodes(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	for i := 0; i < 8; i++ {
		seedNode(t, repo, &model.KnowledgeNode{
			Title:   fmt.Sprintf("kafka note %d", i),
			Content: "kafka partitions",
		})
	}

	result, err := engine.Recall(ctx, testOwner, "", "kafka", 4)
	gt.NoError(t, err)
	gt.Equal(t, len(result), 4)
}

func TestLinkSymmetry(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	a := seedNode(t, repo, &model.KnowledgeNode{Title: "A"})
	b := seedNode(t, repo, &model.KnowledgeNode{Title: "B"})

	gt.NoError(t, engine.Link(ctx, testOwner, a.ID, b.ID))

	gotA := gt.R1(repo.GetNode(ctx, testOwner, a.ID)).NoError(t)
	gotB := gt.R1(repo.GetNode(ctx, testOwner, b.ID)).NoError(t)
	gt.True(t, gotA.Linked(b.ID))
	gt.True(t, gotB.Linked(a.ID))

	// linking again is a no-op
	gt.NoError(t, engine.Link(ctx, testOwner, a.ID, b.ID))
	gotA = gt.R1(repo.GetNode(ctx, testOwner, a.ID)).NoError(t)
	gt.Equal(t, len(gotA.Links), 1)

	gt.NoError(t, engine.Unlink(ctx, testOwner, a.ID, b.ID))
	gotA = gt.R1(repo.GetNode(ctx, testOwner, a.ID)).NoError(t)
	gotB = gt.R1(repo.GetNode(ctx, testOwner, b.ID)).NoError(t)
	gt.False(t, gotA.Linked(b.ID))
	gt.False(t, gotB.Linked(a.ID))
}

func TestLinkSelfRejected(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	a := seedNode(t, repo, &model.KnowledgeNode{Title: "A"})
	gt.Error(t, engine.Link(ctx, testOwner, a.ID, a.ID))
}

func TestCreateNodeAddsBacklinks(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	existing := seedNode(t, repo, &model.KnowledgeNode{Title: "existing"})

	created, err := engine.CreateNode(ctx, &model.KnowledgeNode{
		OwnerID: testOwner,
		Title:   "new node",
		Type:    model.NodeTypeConcept,
		Links:   []model.NodeID{existing.ID},
	})
	gt.NoError(t, err)

	got := gt.R1(repo.GetNode(ctx, testOwner, existing.ID)).NoError(t)
	gt.True(t, got.Linked(created.ID))
}

func TestUpdateNodeMirrorsLinkChanges(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	old := seedNode(t, repo, &model.KnowledgeNode{Title: "old neighbor"})
	next := seedNode(t, repo, &model.KnowledgeNode{Title: "new neighbor"})
	node := gt.R1(engine.CreateNode(ctx, &model.KnowledgeNode{
		OwnerID: testOwner,
		Title:   "center",
		Type:    model.NodeTypeConcept,
		Links:   []model.NodeID{old.ID},
	})).NoError(t)

	node.Links = []model.NodeID{next.ID}
	gt.NoError(t, engine.UpdateNode(ctx, node))

	gotOld := gt.R1(repo.GetNode(ctx, testOwner, old.ID)).NoError(t)
	gotNext := gt.R1(repo.GetNode(ctx, testOwner, next.ID)).NoError(t)
	gt.False(t, gotOld.Linked(node.ID))
	gt.True(t, gotNext.Linked(node.ID))
}

func TestDeleteNodeRemovesBacklinks(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	engine := knowledge.New(repo)

	a := seedNode(t, repo, &model.KnowledgeNode{Title: "A"})
	b := seedNode(t, repo, &model.KnowledgeNode{Title: "B"})
	gt.NoError(t, engine.Link(ctx, testOwner, a.ID, b.ID))

	gt.NoError(t, engine.DeleteNode(ctx, testOwner, a.ID))

	_, err := repo.GetNode(ctx, testOwner, a.ID)
	gt.Error(t, err)
	gotB := gt.R1(repo.GetNode(ctx, testOwner, b.ID)).NoError(t)
	gt.False(t, gotB.Linked(a.ID))
}

func TestCreateNodeValidation(t *testing.T) {
	ctx := context.Background()
	engine := knowledge.New(repository.NewMemory())

	_, err := engine.CreateNode(ctx, &model.KnowledgeNode{
		OwnerID: testOwner,
		Title:   "",
		Type:    model.NodeTypeConcept,
	})
	gt.Error(t, err)

	long := make([]byte, model.MaxNodeTitleLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = engine.CreateNode(ctx, &model.KnowledgeNode{
		OwnerID: testOwner,
		Title:   string(long),
		Type:    model.NodeTypeConcept,
	})
	gt.Error(t, err)
}
