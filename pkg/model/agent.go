package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type AgentID string

// NewAgentID generates a new unique AgentID
func NewAgentID() AgentID {
	return AgentID(uuid.New().String())
}

type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Capability is a published skill of an agent, advertised for A2A discovery
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Published   bool   `json:"published"`
}

// Agent is a configured persona owned by an account
type Agent struct {
	ID           AgentID
	OwnerID      OwnerID
	Name         string
	Provider     Provider
	Model        string
	BaseURL      string // optional override for self-hosted endpoints
	SystemPrompt string
	Capabilities []Capability

	// A2A delegation settings
	DelegationEnabled bool
	AllowInitiate     bool
	Public            bool
	DiscoveryVisible  bool
	MaxAutoReplyHops  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublishedCapabilities returns only the capabilities advertised publicly
func (a *Agent) PublishedCapabilities() []Capability {
	var out []Capability
	for _, c := range a.Capabilities {
		if c.Published {
			out = append(out, c)
		}
	}
	return out
}

// Account holds the account-level settings the pipeline consults
type Account struct {
	ID                        OwnerID
	CrossAccountDelegationOff bool
	CreatedAt                 time.Time
}

// ThreadID derives the deterministic A2A thread id for two agents: the ids
// sorted lexicographically and joined
func ThreadID(a, b AgentID) string {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}
