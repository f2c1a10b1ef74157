package knowledge

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/repository"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

const (
	// DefaultMaxNodes caps one recall result set
	DefaultMaxNodes = 10

	// fullContentTop is how many top search hits carry full content; the
	// rest are description-only
	fullContentTop = 3
)

// Engine retrieves and mutates the owner's knowledge graph
type Engine struct {
	repo repository.Repository
}

// New creates a knowledge engine on the given repository
func New(repo repository.Repository) *Engine {
	return &Engine{repo: repo}
}

// Recall selects up to maxNodes relevant nodes for a query. Best-effort
// heuristic retrieval in three passes: full-text search ranked by position,
// one-hop graph expansion from the hits, and a map-of-content boost for
// index nodes that link into the result set. Ties keep insertion order.
func (e *Engine) Recall(ctx context.Context, owner model.OwnerID, agent model.AgentID, query string, maxNodes int) ([]*model.RecalledNode, error) {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}

	hits, err := e.repo.SearchNodes(ctx, owner, query, maxNodes)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search knowledge nodes")
	}
	logging.From(ctx).Debug("knowledge recall",
		"owner", owner, "agent", agent, "hits", len(hits))

	selected := make([]*model.RecalledNode, 0, maxNodes)
	seen := make(map[model.NodeID]bool, maxNodes)
	for i, node := range hits {
		selected = append(selected, &model.RecalledNode{
			Node:        node,
			Score:       float64(len(hits) - i),
			Source:      model.RecallSourceSearch,
			FullContent: i < fullContentTop || node.Type == model.NodeTypeMOC,
		})
		seen[node.ID] = true
	}

	// one-hop expansion from the search hits, description only
	for _, hit := range hits {
		if len(selected) >= maxNodes {
			break
		}
		for _, linked := range hit.Links {
			if len(selected) >= maxNodes {
				break
			}
			if seen[linked] {
				continue
			}
			neighbor, err := e.repo.GetNode(ctx, owner, linked)
			if err != nil {
				logging.From(ctx).Warn("failed to load linked node",
					"node_id", linked, "error", err)
				continue
			}
			selected = append(selected, &model.RecalledNode{
				Node: neighbor,
				// index nodes are full content on every retrieval path
				FullContent: neighbor.Type == model.NodeTypeMOC,
				Score:       0,
				Source:      model.RecallSourceTraversal,
			})
			seen[linked] = true
		}
	}

	// index nodes whose link set reaches into the result set
	if len(selected) < maxNodes {
		mocs, err := e.repo.ListMOCNodes(ctx, owner)
		if err != nil {
			logging.From(ctx).Warn("failed to list index nodes", "error", err)
		} else {
			for _, moc := range mocs {
				if len(selected) >= maxNodes {
					break
				}
				if seen[moc.ID] || !linksInto(moc, seen) {
					continue
				}
				selected = append(selected, &model.RecalledNode{
					Node:        moc,
					Score:       1,
					Source:      model.RecallSourceMOC,
					FullContent: true,
				})
				seen[moc.ID] = true
			}
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Score > selected[j].Score
	})
	if len(selected) > maxNodes {
		selected = selected[:maxNodes]
	}
	return selected, nil
}

func linksInto(node *model.KnowledgeNode, seen map[model.NodeID]bool) bool {
	for _, id := range node.Links {
		if seen[id] {
			return true
		}
	}
	return false
}
