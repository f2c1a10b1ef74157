package pipeline

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"

	"github.com/y-hosokawa/hibari/pkg/adapter"
	"github.com/y-hosokawa/hibari/pkg/gateway"
	"github.com/y-hosokawa/hibari/pkg/knowledge"
	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/policy"
	"github.com/y-hosokawa/hibari/pkg/repository"
	"github.com/y-hosokawa/hibari/pkg/safety"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

//go:embed prompt/system.md
var formatPrompt string

const (
	refusalText = "This message was blocked by the input safety screen and will not be processed."
	apologyText = "I'm sorry, something went wrong while processing your message. Please try again."

	recencyWindow       = 10
	semanticRecallLimit = 8
)

// Input is the single entry contract every inbound channel calls through
type Input struct {
	OwnerID  model.OwnerID
	AgentID  model.AgentID
	Message  string
	Channel  model.Channel
	CallerID string // optional caller identity, an agent id on the agent channel
	HopCount int

	// Provider-assigned ids, set by webhook ingestion so replayed payloads
	// can be detected. Stored on the persisted user turn.
	ProviderThreadID  string
	ProviderMessageID string
}

// Result is what the channel hands back to its caller
type Result struct {
	Response      string
	TokensUsed    int
	Blocked       bool
	SecurityFlags []model.SecurityFlag
}

// UseCase runs the message processing pipeline. It keeps no mutable state
// between invocations; everything cross-request lives in the repository.
type UseCase struct {
	repo     repository.Repository
	gw       *gateway.Gateway
	vault    adapter.Vault
	screener *safety.Screener
	know     *knowledge.Engine
	audit    adapter.Audit
	storage  adapter.Storage
	policy   *policy.Delegation
}

// Option configures optional collaborators
type Option func(*UseCase)

// WithScreener replaces the default screening rules
func WithScreener(s *safety.Screener) Option {
	return func(u *UseCase) { u.screener = s }
}

// WithAudit sets the audit sink
func WithAudit(a adapter.Audit) Option {
	return func(u *UseCase) { u.audit = a }
}

// WithStorage enables run transcript archival
func WithStorage(s adapter.Storage) Option {
	return func(u *UseCase) { u.storage = s }
}

// WithDelegationPolicy replaces the embedded delegation policy
func WithDelegationPolicy(p *policy.Delegation) Option {
	return func(u *UseCase) { u.policy = p }
}

// New creates the pipeline use case
func New(ctx context.Context, repo repository.Repository, gw *gateway.Gateway, vault adapter.Vault, opts ...Option) (*UseCase, error) {
	pol, err := policy.NewDelegation(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build delegation policy")
	}

	u := &UseCase{
		repo:     repo,
		gw:       gw,
		vault:    vault,
		screener: safety.Default(),
		know:     knowledge.New(repo),
		audit:    adapter.NewLogAudit(),
		policy:   pol,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// ProcessMessage runs one message through the full pipeline: screen, gather
// context, invoke the provider, parse, dispatch actions, persist. Writes
// happen only after the response is finalized; a partial write failure is
// logged, never surfaced.
func (u *UseCase) ProcessMessage(ctx context.Context, input *Input) (*Result, error) {
	run := model.NewPipelineRun(input.OwnerID, input.AgentID, input.Channel, input.HopCount)
	defer func() {
		run.Finish()
		u.archiveRun(ctx, run)
	}()

	idx := run.StartStep("screen")
	scan := u.screener.Scan(input.Message)
	if scan.Blocked() {
		run.EndStep(idx, model.StepStatusOK, "blocked")
		u.auditFlags(ctx, input, scan.Flags)
		return &Result{
			Response:      refusalText,
			Blocked:       true,
			SecurityFlags: scan.Flags,
		}, nil
	}
	run.EndStep(idx, model.StepStatusOK, string(scan.Severity))

	agent, err := u.repo.GetAgent(ctx, input.AgentID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load agent", goerr.V("agent_id", input.AgentID))
	}
	if agent.OwnerID != input.OwnerID {
		return nil, goerr.New("agent does not belong to owner",
			goerr.V("agent_id", input.AgentID),
			goerr.V("owner_id", input.OwnerID),
		)
	}

	cred, err := u.vault.GetDecryptedAPIKey(ctx, input.OwnerID, agent.Provider)
	if err != nil {
		logging.From(ctx).Warn("credential lookup failed", "provider", agent.Provider, "error", err)
		return &Result{
			Response: fmt.Sprintf("The agent is not configured correctly: no API key is stored for provider %q.", agent.Provider),
		}, nil
	}

	idx = run.StartStep("context")
	parts := u.gatherContext(ctx, input, agent, scan.Sanitized)
	run.EndStep(idx, model.StepStatusOK, fmt.Sprintf("recency=%d semantic=%d knowledge=%d",
		len(parts.recency), len(parts.semantic), len(parts.nodes)))

	system, messages := buildMessages(agent, parts, scan.Sanitized)

	idx = run.StartStep("invoke")
	resp, err := u.gw.Invoke(ctx, &gateway.Request{
		Provider: agent.Provider,
		APIKey:   cred.APIKey,
		Model:    agent.Model,
		BaseURL:  agent.BaseURL,
		System:   system,
		Messages: messages,
	})
	if err != nil {
		run.EndStep(idx, model.StepStatusFailed, err.Error())
		if gateway.IsConfigError(err) {
			return &Result{
				Response: fmt.Sprintf("The agent is not configured correctly: provider %q rejected the request for model %q. Check the API key, model name, and endpoint.",
					agent.Provider, agent.Model),
			}, nil
		}
		logging.From(ctx).Error("provider call failed", "error", err)
		return &Result{Response: apologyText}, nil
	}
	run.EndStep(idx, model.StepStatusOK, fmt.Sprintf("tokens=%d", resp.TokensUsed))

	idx = run.StartStep("parse")
	parsed := parseResponse(ctx, resp.Content)
	run.Thinking = parsed.Thinking
	run.EndStep(idx, model.StepStatusOK, fmt.Sprintf("actions=%d", len(parsed.Actions)))

	idx = run.StartStep("dispatch")
	extraTokens, err := u.dispatch(ctx, agent, input, parsed, run)
	if err != nil {
		run.EndStep(idx, model.StepStatusFailed, err.Error())
		return nil, goerr.Wrap(err, "delegation chain terminated")
	}
	run.EndStep(idx, model.StepStatusOK, "")

	idx = run.StartStep("persist")
	u.persistTurn(ctx, input, agent, scan.Sanitized, parsed.Reply, parts.embedding)
	u.auditRun(ctx, input, run, resp.TokensUsed+extraTokens)
	run.EndStep(idx, model.StepStatusOK, "")

	return &Result{
		Response:      parsed.Reply,
		TokensUsed:    resp.TokensUsed + extraTokens,
		SecurityFlags: scan.Flags,
	}, nil
}

// persistTurn appends the sanitized user turn and the assistant reply
func (u *UseCase) persistTurn(ctx context.Context, input *Input, agent *model.Agent, userText, reply string, embedding firestore.Vector32) {
	now := time.Now()
	userMemory := &model.Memory{
		OwnerID:           input.OwnerID,
		AgentID:           agent.ID,
		Kind:              model.MemoryKindConversation,
		Content:           userText,
		Channel:           input.Channel,
		Role:              "user",
		HopCount:          input.HopCount,
		ProviderThreadID:  input.ProviderThreadID,
		ProviderMessageID: input.ProviderMessageID,
		CreatedAt:         now,
	}
	if len(embedding) > 0 {
		userMemory.Embedding = embedding
	}
	if err := u.repo.PutMemory(ctx, userMemory); err != nil {
		logging.From(ctx).Error("failed to persist user turn", "error", err)
	}

	if err := u.repo.PutMemory(ctx, &model.Memory{
		OwnerID:   input.OwnerID,
		AgentID:   agent.ID,
		Kind:      model.MemoryKindConversation,
		Content:   reply,
		Channel:   input.Channel,
		Role:      "assistant",
		HopCount:  input.HopCount,
		CreatedAt: now.Add(time.Millisecond),
	}); err != nil {
		logging.From(ctx).Error("failed to persist assistant turn", "error", err)
	}
}

func (u *UseCase) auditFlags(ctx context.Context, input *Input, flags []model.SecurityFlag) {
	if err := u.audit.Insert(ctx, &model.AuditRecord{
		ID:        model.NewAuditID(),
		OwnerID:   input.OwnerID,
		AgentID:   input.AgentID,
		Kind:      model.AuditKindSecurityFlag,
		Channel:   input.Channel,
		Detail:    "input blocked by safety screen",
		Flags:     flags,
		CreatedAt: time.Now(),
	}); err != nil {
		logging.From(ctx).Error("failed to write security audit record", "error", err)
	}
}

func (u *UseCase) auditRun(ctx context.Context, input *Input, run *model.PipelineRun, tokens int) {
	if err := u.audit.Insert(ctx, &model.AuditRecord{
		ID:        model.NewAuditID(),
		OwnerID:   input.OwnerID,
		AgentID:   input.AgentID,
		Kind:      model.AuditKindPipelineRun,
		Channel:   input.Channel,
		Detail:    fmt.Sprintf("run=%s steps=%d tokens=%d hop=%d", run.ID, len(run.Steps), tokens, run.HopCount),
		CreatedAt: time.Now(),
	}); err != nil {
		logging.From(ctx).Error("failed to write run audit record", "error", err)
	}
}

// archiveRun offloads the full trace to blob storage when configured
func (u *UseCase) archiveRun(ctx context.Context, run *model.PipelineRun) {
	if u.storage == nil {
		return
	}
	key := fmt.Sprintf("runs/%s.json", run.ID)
	if err := adapter.PutJSON(ctx, u.storage, key, run); err != nil {
		logging.From(ctx).Error("failed to archive pipeline run", "run_id", run.ID, "error", err)
	}
}
