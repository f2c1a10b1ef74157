package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

const placeholderReply = "I've taken care of that."

var (
	thinkingRe = regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`)
	actionsRe  = regexp.MustCompile(`(?s)<app_actions>(.*?)</app_actions>`)
)

// actionEnvelope validates the outer shape of one action entry before the
// typed constructor sees it
var actionEnvelope = func() *jsonschema.Resolved {
	schema := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"type"},
		Properties: map[string]*jsonschema.Schema{
			"type": {Type: "string"},
		},
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(err)
	}
	return resolved
}()

type parsedResponse struct {
	Thinking string
	Actions  []model.Action
	Reply    string
}

// parseResponse splits raw model output into private thinking, typed
// actions, and the visible reply. The reply is never empty: an empty
// remainder falls back to the first action's summary, then a placeholder.
func parseResponse(ctx context.Context, content string) *parsedResponse {
	p := &parsedResponse{}

	if m := thinkingRe.FindStringSubmatch(content); m != nil {
		p.Thinking = strings.TrimSpace(m[1])
	}
	remainder := thinkingRe.ReplaceAllString(content, "")

	if m := actionsRe.FindStringSubmatch(remainder); m != nil {
		p.Actions = parseActions(ctx, m[1])
	}
	remainder = actionsRe.ReplaceAllString(remainder, "")

	p.Reply = strings.TrimSpace(remainder)
	if p.Reply == "" && len(p.Actions) > 0 {
		p.Reply = strings.TrimSpace(p.Actions[0].Summary())
	}
	if p.Reply == "" {
		p.Reply = placeholderReply
	}
	return p
}

// parseActions decodes the action array. Malformed JSON drops the whole
// block; an entry with a bad shape or unknown type drops only that entry.
func parseActions(ctx context.Context, raw string) []model.Action {
	var entries []map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &entries); err != nil {
		logging.From(ctx).Warn("malformed action block dropped", "error", err)
		return nil
	}

	var actions []model.Action
	for _, entry := range entries {
		if err := actionEnvelope.Validate(entry); err != nil {
			logging.From(ctx).Debug("action entry dropped", "error", err)
			continue
		}
		kind, _ := entry["type"].(string)
		action, err := model.NewAction(model.ActionKind(kind), entry)
		if err != nil {
			logging.From(ctx).Debug("action entry dropped", "error", err)
			continue
		}
		actions = append(actions, action)
	}
	return actions
}
