package model

import (
	"github.com/m-mizutani/goerr/v2"
)

var ErrUnknownAction = goerr.New("unknown action type")

type ActionKind string

const (
	ActionCreateTask          ActionKind = "create_task"
	ActionUpdateTask          ActionKind = "update_task"
	ActionSaveMemory          ActionKind = "save_memory"
	ActionCreateKnowledgeNode ActionKind = "create_knowledge_node"
	ActionUpdateKnowledgeNode ActionKind = "update_knowledge_node"
	ActionLinkKnowledgeNodes  ActionKind = "link_knowledge_nodes"
	ActionSendAgentMessage    ActionKind = "send_agent_message"
	ActionGenerateAudio       ActionKind = "generate_audio"
)

const (
	MaxActionDescriptionLen = 800
	MaxActionCapabilities   = 25
)

// Action is one side-effecting instruction extracted from model output.
// The set of kinds is closed: anything else is dropped at the parse boundary.
type Action interface {
	Kind() ActionKind
	// Summary is the action-embedded fallback text used when the visible
	// reply is empty or boilerplate
	Summary() string
}

type CreateTask struct {
	Description string
	Note        string
}

func (a *CreateTask) Kind() ActionKind { return ActionCreateTask }
func (a *CreateTask) Summary() string  { return a.Description }

type UpdateTask struct {
	TaskID  TaskID
	Status  TaskStatus
	Outcome string
}

func (a *UpdateTask) Kind() ActionKind { return ActionUpdateTask }
func (a *UpdateTask) Summary() string  { return a.Outcome }

type SaveMemory struct {
	Content string
	Memory  MemoryKind
}

func (a *SaveMemory) Kind() ActionKind { return ActionSaveMemory }
func (a *SaveMemory) Summary() string  { return a.Content }

type CreateKnowledgeNode struct {
	Title       string
	Description string
	Content     string
	NodeType    NodeType
	Tags        []string
}

func (a *CreateKnowledgeNode) Kind() ActionKind { return ActionCreateKnowledgeNode }
func (a *CreateKnowledgeNode) Summary() string  { return a.Title }

type UpdateKnowledgeNode struct {
	NodeID      NodeID
	Title       string
	Description string
	Content     string
}

func (a *UpdateKnowledgeNode) Kind() ActionKind { return ActionUpdateKnowledgeNode }
func (a *UpdateKnowledgeNode) Summary() string  { return a.Title }

type LinkKnowledgeNodes struct {
	FromID NodeID
	ToID   NodeID
}

func (a *LinkKnowledgeNodes) Kind() ActionKind { return ActionLinkKnowledgeNodes }
func (a *LinkKnowledgeNodes) Summary() string  { return "" }

type SendAgentMessage struct {
	ToAgentID    AgentID
	Message      string
	Capabilities []string
}

func (a *SendAgentMessage) Kind() ActionKind { return ActionSendAgentMessage }
func (a *SendAgentMessage) Summary() string  { return a.Message }

type GenerateAudio struct {
	Text string
}

func (a *GenerateAudio) Kind() ActionKind { return ActionGenerateAudio }
func (a *GenerateAudio) Summary() string  { return a.Text }

// NewAction builds a validated action from a decoded JSON object. Field
// values beyond the caps are truncated rather than rejected; an unknown kind
// returns ErrUnknownAction so the caller can drop the entry.
func NewAction(kind ActionKind, fields map[string]any) (Action, error) {
	switch kind {
	case ActionCreateTask:
		desc := truncate(getString(fields, "description"), MaxActionDescriptionLen)
		if desc == "" {
			return nil, goerr.New("create_task requires description")
		}
		return &CreateTask{
			Description: desc,
			Note:        truncate(getString(fields, "note"), MaxActionDescriptionLen),
		}, nil

	case ActionUpdateTask:
		id := getString(fields, "task_id")
		if id == "" {
			return nil, goerr.New("update_task requires task_id")
		}
		status := TaskStatus(getString(fields, "status"))
		if err := status.Validate(); err != nil {
			return nil, err
		}
		return &UpdateTask{
			TaskID:  TaskID(id),
			Status:  status,
			Outcome: truncate(getString(fields, "outcome"), MaxActionDescriptionLen),
		}, nil

	case ActionSaveMemory:
		content := getString(fields, "content")
		if content == "" {
			return nil, goerr.New("save_memory requires content")
		}
		kind := MemoryKind(getString(fields, "kind"))
		if kind == "" {
			kind = MemoryKindFact
		}
		return &SaveMemory{Content: content, Memory: kind}, nil

	case ActionCreateKnowledgeNode:
		title := truncate(getString(fields, "title"), MaxNodeTitleLen)
		if title == "" {
			return nil, goerr.New("create_knowledge_node requires title")
		}
		nodeType := NodeType(getString(fields, "node_type"))
		if nodeType == "" {
			nodeType = NodeTypeConcept
		}
		if err := nodeType.Validate(); err != nil {
			return nil, err
		}
		return &CreateKnowledgeNode{
			Title:       title,
			Description: truncate(getString(fields, "description"), MaxNodeDescriptionLen),
			Content:     truncate(getString(fields, "content"), MaxNodeContentLen),
			NodeType:    nodeType,
			Tags:        getStrings(fields, "tags"),
		}, nil

	case ActionUpdateKnowledgeNode:
		id := getString(fields, "node_id")
		if id == "" {
			return nil, goerr.New("update_knowledge_node requires node_id")
		}
		return &UpdateKnowledgeNode{
			NodeID:      NodeID(id),
			Title:       truncate(getString(fields, "title"), MaxNodeTitleLen),
			Description: truncate(getString(fields, "description"), MaxNodeDescriptionLen),
			Content:     truncate(getString(fields, "content"), MaxNodeContentLen),
		}, nil

	case ActionLinkKnowledgeNodes:
		from := getString(fields, "from_id")
		to := getString(fields, "to_id")
		if from == "" || to == "" {
			return nil, goerr.New("link_knowledge_nodes requires from_id and to_id")
		}
		return &LinkKnowledgeNodes{FromID: NodeID(from), ToID: NodeID(to)}, nil

	case ActionSendAgentMessage:
		to := getString(fields, "to_agent_id")
		msg := getString(fields, "message")
		if to == "" || msg == "" {
			return nil, goerr.New("send_agent_message requires to_agent_id and message")
		}
		caps := getStrings(fields, "capabilities")
		if len(caps) > MaxActionCapabilities {
			caps = caps[:MaxActionCapabilities]
		}
		return &SendAgentMessage{ToAgentID: AgentID(to), Message: msg, Capabilities: caps}, nil

	case ActionGenerateAudio:
		text := getString(fields, "text")
		if text == "" {
			return nil, goerr.New("generate_audio requires text")
		}
		return &GenerateAudio{Text: text}, nil

	default:
		return nil, goerr.Wrap(ErrUnknownAction, "dropping action", goerr.V("type", kind))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getStrings(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
