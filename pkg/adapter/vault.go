package adapter

import (
	"context"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/y-hosokawa/hibari/pkg/model"
)

// ErrCredentialNotFound is returned when no key is stored for the owner and
// service pair
var ErrCredentialNotFound = goerr.New("credential not found")

// Credential is a decrypted provider API key
type Credential struct {
	Service string
	APIKey  string
}

// Vault resolves provider API keys per owner. Keys are stored encrypted at
// rest and decrypted on read.
type Vault interface {
	GetDecryptedAPIKey(ctx context.Context, owner model.OwnerID, service model.Provider) (*Credential, error)
}

// envVault reads keys from the process environment. Owner scoping collapses
// to a single tenant, which is what local runs and tests need.
type envVault struct{}

// NewEnvVault creates a Vault backed by environment variables. The lookup
// key for service "gemini" is HIBARI_GEMINI_API_KEY.
func NewEnvVault() Vault {
	return &envVault{}
}

func (v *envVault) GetDecryptedAPIKey(_ context.Context, owner model.OwnerID, service model.Provider) (*Credential, error) {
	name := "HIBARI_" + strings.ToUpper(string(service)) + "_API_KEY"
	key := os.Getenv(name)
	if key == "" {
		return nil, goerr.Wrap(ErrCredentialNotFound, "environment variable is not set",
			goerr.V("owner", owner),
			goerr.V("env", name),
		)
	}

	return &Credential{Service: string(service), APIKey: key}, nil
}

// staticVault serves a fixed key map. Test use only.
type staticVault struct {
	keys map[model.Provider]string
}

// NewStaticVault creates a Vault that serves the given keys
func NewStaticVault(keys map[model.Provider]string) Vault {
	return &staticVault{keys: keys}
}

func (v *staticVault) GetDecryptedAPIKey(_ context.Context, _ model.OwnerID, service model.Provider) (*Credential, error) {
	key, ok := v.keys[service]
	if !ok {
		return nil, goerr.Wrap(ErrCredentialNotFound, "no key for service", goerr.V("service", service))
	}
	return &Credential{Service: string(service), APIKey: key}, nil
}
