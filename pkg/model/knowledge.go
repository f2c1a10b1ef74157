package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var ErrInvalidNode = goerr.New("invalid knowledge node")

type NodeID string

// NewNodeID generates a new unique NodeID
func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}

type NodeType string

const (
	NodeTypeConcept   NodeType = "concept"
	NodeTypeTechnique NodeType = "technique"
	NodeTypeReference NodeType = "reference"
	NodeTypeMOC       NodeType = "moc"
	NodeTypeClaim     NodeType = "claim"
	NodeTypeProcedure NodeType = "procedure"
)

// Validate checks if the node type is one of the closed set
func (t NodeType) Validate() error {
	switch t {
	case NodeTypeConcept, NodeTypeTechnique, NodeTypeReference, NodeTypeMOC, NodeTypeClaim, NodeTypeProcedure:
		return nil
	default:
		return goerr.Wrap(ErrInvalidNode, "unknown node type", goerr.V("type", t))
	}
}

const (
	MaxNodeTitleLen       = 120
	MaxNodeDescriptionLen = 200
	MaxNodeContentLen     = 12000
	MaxNodeLinks          = 30
)

// KnowledgeNode is a vertex of a personal knowledge graph. Links are
// undirected and kept symmetric: A listing B implies B listing A.
type KnowledgeNode struct {
	ID          NodeID
	OwnerID     OwnerID
	AgentID     AgentID // originating agent, optional
	Title       string
	Description string
	Content     string
	Type        NodeType
	Tags        []string
	Links       []NodeID
	Published   bool
	UpdatedAt   time.Time
}

// Validate checks length caps and the node type. Both direct user edits and
// agent-issued mutations go through this.
func (n *KnowledgeNode) Validate() error {
	if n.Title == "" {
		return goerr.Wrap(ErrInvalidNode, "title is empty")
	}
	if len(n.Title) > MaxNodeTitleLen {
		return goerr.Wrap(ErrInvalidNode, "title too long", goerr.V("len", len(n.Title)))
	}
	if len(n.Description) > MaxNodeDescriptionLen {
		return goerr.Wrap(ErrInvalidNode, "description too long", goerr.V("len", len(n.Description)))
	}
	if len(n.Content) > MaxNodeContentLen {
		return goerr.Wrap(ErrInvalidNode, "content too long", goerr.V("len", len(n.Content)))
	}
	if len(n.Links) > MaxNodeLinks {
		return goerr.Wrap(ErrInvalidNode, "too many links", goerr.V("count", len(n.Links)))
	}
	return n.Type.Validate()
}

// Linked reports whether the node already links to the given id
func (n *KnowledgeNode) Linked(id NodeID) bool {
	for _, l := range n.Links {
		if l == id {
			return true
		}
	}
	return false
}

// RecallSource describes how a node entered a recall result set
type RecallSource string

const (
	RecallSourceSearch    RecallSource = "search"
	RecallSourceTraversal RecallSource = "graph_traversal"
	RecallSourceMOC       RecallSource = "moc_index"
)

// RecalledNode is a knowledge node with retrieval bookkeeping. FullContent
// marks progressive disclosure: false means only the one-line description
// should be rendered into context.
type RecalledNode struct {
	Node        *KnowledgeNode
	Score       float64
	Source      RecallSource
	FullContent bool
}
