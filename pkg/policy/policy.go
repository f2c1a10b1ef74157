package policy

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/y-hosokawa/hibari/pkg/model"
)

//go:embed policy/delegate.rego
var defaultDelegatePolicy string

// Decision is the outcome of one eligibility evaluation
type Decision struct {
	Allow   bool
	Reasons []string
}

// Delegation evaluates whether one agent may delegate a message to another.
// The rule set is Rego so operators can replace it without a rebuild.
type Delegation struct {
	query *rego.PreparedEvalQuery
}

// NewDelegation creates a Delegation with the embedded default policy
func NewDelegation(ctx context.Context) (*Delegation, error) {
	return newFromModules(ctx, []func(*rego.Rego){
		rego.Module("delegate.rego", defaultDelegatePolicy),
	})
}

// NewDelegationFromDir loads every .rego file in dir as the policy set
func NewDelegationFromDir(ctx context.Context, dir string) (*Delegation, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy files found", goerr.V("dir", dir))
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return newFromModules(ctx, modules)
}

func newFromModules(ctx context.Context, modules []func(*rego.Rego)) (*Delegation, error) {
	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query("data.delegation"))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare delegation policy")
	}
	return &Delegation{query: &prepared}, nil
}

// Evaluate checks delegation eligibility for a sender/recipient pair
func (d *Delegation) Evaluate(ctx context.Context, sender, recipient *model.Agent, recipientAccount *model.Account) (*Decision, error) {
	crossAccountOff := false
	if recipientAccount != nil {
		crossAccountOff = recipientAccount.CrossAccountDelegationOff
	}

	input := map[string]any{
		"sender": map[string]any{
			"id":                 string(sender.ID),
			"owner_id":           string(sender.OwnerID),
			"delegation_enabled": sender.DelegationEnabled,
			"allow_initiate":     sender.AllowInitiate,
		},
		"recipient": map[string]any{
			"id":                           string(recipient.ID),
			"owner_id":                     string(recipient.OwnerID),
			"delegation_enabled":           recipient.DelegationEnabled,
			"public":                       recipient.Public,
			"published_capabilities":       len(recipient.PublishedCapabilities()),
			"discovery_visible":            recipient.DiscoveryVisible,
			"cross_account_delegation_off": crossAccountOff,
		},
	}

	rs, err := d.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate delegation policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &Decision{Allow: false, Reasons: []string{"policy returned no result"}}, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("invalid delegation policy result")
	}

	decision := &Decision{}
	if allow, ok := data["allow"].(bool); ok {
		decision.Allow = allow
	}
	if reasons, ok := data["deny_reason"].([]any); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				decision.Reasons = append(decision.Reasons, s)
			}
		}
	}
	return decision, nil
}
