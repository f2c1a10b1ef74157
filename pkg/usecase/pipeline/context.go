package pipeline

import (
	"strings"

	"github.com/y-hosokawa/hibari/pkg/gateway"
	"github.com/y-hosokawa/hibari/pkg/model"
)

// buildMessages assembles the canonical message list in fixed order: system
// prompt with the knowledge section appended, recency window oldest first,
// semantic recall, the A2A thread transcript for delegated messages, then
// the sanitized current turn. Recency and semantic recall are not
// deduplicated against each other.
func buildMessages(agent *model.Agent, parts *contextParts, sanitized string) (string, []gateway.Message) {
	var system strings.Builder
	if agent.SystemPrompt != "" {
		system.WriteString(agent.SystemPrompt)
		system.WriteString("\n\n")
	}
	system.WriteString(formatPrompt)

	if section := renderKnowledge(parts.nodes); section != "" {
		system.WriteString("\n\n")
		system.WriteString(section)
	}

	var messages []gateway.Message

	// recency window arrives newest first; replay chronologically
	for i := len(parts.recency) - 1; i >= 0; i-- {
		m := parts.recency[i]
		messages = append(messages, gateway.Message{
			Role:    memoryRole(m),
			Content: m.Content,
		})
	}

	for _, m := range parts.semantic {
		messages = append(messages, gateway.Message{
			Role:    memoryRole(m),
			Content: m.Content,
		})
	}

	// the current delegated message is already recorded on the thread; drop
	// it from the transcript so it appears once, as the current turn
	thread := parts.thread
	if n := len(thread); n > 0 &&
		thread[n-1].Direction == model.MemoryDirectionInbound &&
		thread[n-1].Content == sanitized {
		thread = thread[:n-1]
	}
	for _, m := range thread {
		messages = append(messages, gateway.Message{
			Role:    threadRole(m),
			Content: m.Content,
		})
	}

	messages = append(messages, gateway.Message{
		Role:    gateway.RoleUser,
		Content: sanitized,
	})
	return system.String(), messages
}

func memoryRole(m *model.Memory) gateway.Role {
	if m.Role == "assistant" {
		return gateway.RoleAssistant
	}
	return gateway.RoleUser
}

// threadRole maps the directional A2A transcript onto chat roles: what the
// peer sent is a user turn, what this agent sent is an assistant turn
func threadRole(m *model.Memory) gateway.Role {
	if m.Direction == model.MemoryDirectionOutbound {
		return gateway.RoleAssistant
	}
	return gateway.RoleUser
}

// renderKnowledge formats recalled nodes for the system prompt. Nodes
// without full content contribute only their one-line description.
func renderKnowledge(nodes []*model.RecalledNode) string {
	if len(nodes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("# Recalled knowledge\n")
	for _, r := range nodes {
		b.WriteString("\n## ")
		b.WriteString(r.Node.Title)
		b.WriteString("\n")
		if r.Node.Description != "" {
			b.WriteString(r.Node.Description)
			b.WriteString("\n")
		}
		if r.FullContent && r.Node.Content != "" {
			b.WriteString(r.Node.Content)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
