package knowledge

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/y-hosokawa/hibari/pkg/model"
)

// CreateNode validates and saves a new node. Declared links get their
// reverse edge added so the graph stays symmetric.
func (e *Engine) CreateNode(ctx context.Context, node *model.KnowledgeNode) (*model.KnowledgeNode, error) {
	if node.ID == "" {
		node.ID = model.NewNodeID()
	}
	node.UpdatedAt = time.Now()
	if err := node.Validate(); err != nil {
		return nil, err
	}

	if err := e.repo.PutNode(ctx, node); err != nil {
		return nil, goerr.Wrap(err, "failed to save knowledge node", goerr.V("node_id", node.ID))
	}
	for _, id := range node.Links {
		if err := e.addBacklink(ctx, node.OwnerID, id, node.ID); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// UpdateNode validates and saves an edited node. Link additions and
// removals are mirrored on the affected neighbors.
func (e *Engine) UpdateNode(ctx context.Context, node *model.KnowledgeNode) error {
	existing, err := e.repo.GetNode(ctx, node.OwnerID, node.ID)
	if err != nil {
		return goerr.Wrap(err, "failed to load knowledge node", goerr.V("node_id", node.ID))
	}

	node.UpdatedAt = time.Now()
	if err := node.Validate(); err != nil {
		return err
	}
	if err := e.repo.PutNode(ctx, node); err != nil {
		return goerr.Wrap(err, "failed to save knowledge node", goerr.V("node_id", node.ID))
	}

	before := make(map[model.NodeID]bool, len(existing.Links))
	for _, id := range existing.Links {
		before[id] = true
	}
	after := make(map[model.NodeID]bool, len(node.Links))
	for _, id := range node.Links {
		after[id] = true
		if !before[id] {
			if err := e.addBacklink(ctx, node.OwnerID, id, node.ID); err != nil {
				return err
			}
		}
	}
	for _, id := range existing.Links {
		if !after[id] {
			if err := e.removeBacklink(ctx, node.OwnerID, id, node.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Link connects two nodes in both directions. Linking an already linked
// pair is a no-op.
func (e *Engine) Link(ctx context.Context, owner model.OwnerID, a, b model.NodeID) error {
	if a == b {
		return goerr.Wrap(model.ErrInvalidNode, "cannot link a node to itself", goerr.V("node_id", a))
	}

	nodeA, err := e.repo.GetNode(ctx, owner, a)
	if err != nil {
		return goerr.Wrap(err, "failed to load knowledge node", goerr.V("node_id", a))
	}
	nodeB, err := e.repo.GetNode(ctx, owner, b)
	if err != nil {
		return goerr.Wrap(err, "failed to load knowledge node", goerr.V("node_id", b))
	}

	if nodeA.Linked(b) && nodeB.Linked(a) {
		return nil
	}

	if err := e.attach(ctx, nodeA, b); err != nil {
		return err
	}
	return e.attach(ctx, nodeB, a)
}

// Unlink removes the edge between two nodes from both sides
func (e *Engine) Unlink(ctx context.Context, owner model.OwnerID, a, b model.NodeID) error {
	if err := e.removeBacklink(ctx, owner, a, b); err != nil {
		return err
	}
	return e.removeBacklink(ctx, owner, b, a)
}

// DeleteNode removes a node and every backlink pointing at it
func (e *Engine) DeleteNode(ctx context.Context, owner model.OwnerID, id model.NodeID) error {
	node, err := e.repo.GetNode(ctx, owner, id)
	if err != nil {
		return goerr.Wrap(err, "failed to load knowledge node", goerr.V("node_id", id))
	}

	for _, linked := range node.Links {
		if err := e.removeBacklink(ctx, owner, linked, id); err != nil {
			return err
		}
	}
	if err := e.repo.DeleteNode(ctx, owner, id); err != nil {
		return goerr.Wrap(err, "failed to delete knowledge node", goerr.V("node_id", id))
	}
	return nil
}

func (e *Engine) attach(ctx context.Context, node *model.KnowledgeNode, to model.NodeID) error {
	if node.Linked(to) {
		return nil
	}
	if len(node.Links) >= model.MaxNodeLinks {
		return goerr.Wrap(model.ErrInvalidNode, "link cap reached",
			goerr.V("node_id", node.ID),
			goerr.V("links", len(node.Links)),
		)
	}
	node.Links = append(node.Links, to)
	node.UpdatedAt = time.Now()
	if err := e.repo.PutNode(ctx, node); err != nil {
		return goerr.Wrap(err, "failed to save knowledge node", goerr.V("node_id", node.ID))
	}
	return nil
}

func (e *Engine) addBacklink(ctx context.Context, owner model.OwnerID, id, from model.NodeID) error {
	node, err := e.repo.GetNode(ctx, owner, id)
	if err != nil {
		return goerr.Wrap(err, "failed to load linked node", goerr.V("node_id", id))
	}
	return e.attach(ctx, node, from)
}

func (e *Engine) removeBacklink(ctx context.Context, owner model.OwnerID, id, from model.NodeID) error {
	node, err := e.repo.GetNode(ctx, owner, id)
	if err != nil {
		return goerr.Wrap(err, "failed to load linked node", goerr.V("node_id", id))
	}
	if !node.Linked(from) {
		return nil
	}

	links := node.Links[:0]
	for _, l := range node.Links {
		if l != from {
			links = append(links, l)
		}
	}
	node.Links = links
	node.UpdatedAt = time.Now()
	if err := e.repo.PutNode(ctx, node); err != nil {
		return goerr.Wrap(err, "failed to save knowledge node", goerr.V("node_id", node.ID))
	}
	return nil
}
