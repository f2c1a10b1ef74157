package pipeline

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/y-hosokawa/hibari/pkg/model"
)

func TestParseResponsePlainReply(t *testing.T) {
	p := parseResponse(context.Background(), "Hello, how can I help?")
	gt.Equal(t, p.Reply, "Hello, how can I help?")
	gt.Equal(t, p.Thinking, "")
	gt.Equal(t, len(p.Actions), 0)
}

func TestParseResponseThinkingIsPrivate(t *testing.T) {
	content := "<thinking>the user seems frustrated</thinking>Let me help you with that."
	p := parseResponse(context.Background(), content)
	gt.Equal(t, p.Thinking, "the user seems frustrated")
	gt.Equal(t, p.Reply, "Let me help you with that.")
}

func TestParseResponseActions(t *testing.T) {
	content := `Hi there!
<app_actions>
[
  {"type": "create_task", "description": "Follow up with the customer"},
  {"type": "save_memory", "content": "customer prefers email", "kind": "fact"}
]
</app_actions>`
	p := parseResponse(context.Background(), content)
	gt.Equal(t, p.Reply, "Hi there!")
	gt.Equal(t, len(p.Actions), 2)
	gt.Equal(t, p.Actions[0].Kind(), model.ActionCreateTask)
	gt.Equal(t, p.Actions[1].Kind(), model.ActionSaveMemory)
}

func TestParseResponseUnknownActionDropped(t *testing.T) {
	content := `ok
<app_actions>[{"type": "launch_rocket"}, {"type": "create_task", "description": "real one"}]</app_actions>`
	p := parseResponse(context.Background(), content)
	gt.Equal(t, len(p.Actions), 1)
	gt.Equal(t, p.Actions[0].Kind(), model.ActionCreateTask)
}

func TestParseResponseMalformedJSONDropped(t *testing.T) {
	content := `still fine <app_actions>[{"type": "create_task"</app_actions>`
	p := parseResponse(context.Background(), content)
	gt.Equal(t, len(p.Actions), 0)
	gt.Equal(t, p.Reply, "still fine")
}

func TestParseResponseEmptyReplyFallsBackToSummary(t *testing.T) {
	content := `<app_actions>[{"type": "create_task", "description": "Check the backup job"}]</app_actions>`
	p := parseResponse(context.Background(), content)
	gt.Equal(t, p.Reply, "Check the backup job")
}

func TestParseResponseNeverEmpty(t *testing.T) {
	p := parseResponse(context.Background(), "")
	gt.True(t, p.Reply != "")

	// first action has an empty summary
	content := `<app_actions>[{"type": "link_knowledge_nodes", "from_id": "a", "to_id": "b"}]</app_actions>`
	p = parseResponse(context.Background(), content)
	gt.True(t, p.Reply != "")
}

func TestParseResponseDescriptionTruncated(t *testing.T) {
	long := make([]byte, model.MaxActionDescriptionLen+100)
	for i := range long {
		long[i] = 'x'
	}
	content := `ok <app_actions>[{"type": "create_task", "description": "` + string(long) + `"}]</app_actions>`
	p := parseResponse(context.Background(), content)
	gt.Equal(t, len(p.Actions), 1)
	task := p.Actions[0].(*model.CreateTask)
	gt.Equal(t, len(task.Description), model.MaxActionDescriptionLen)
}
