// Package credential selects how the gateway authenticates against the
// conversational backend and turns that choice into request headers.
package credential

import (
	"log/slog"

	"github.com/yuki/voicerag/internal/config"
)

// Credential is either an APIKey or an IdentityChain. It is resolved once at
// startup and never changes afterwards.
type Credential interface {
	// Kind returns a log-safe name for the strategy.
	Kind() string
	isCredential()
}

// APIKey is a static secret sent with every backend call.
type APIKey struct {
	Value string
}

func (APIKey) Kind() string   { return "api_key" }
func (APIKey) isCredential()  {}
func (APIKey) String() string { return "APIKey(***)" }

// IdentityChain delegates to the ambient Azure identity providers. An empty
// TenantID selects the generic default chain.
type IdentityChain struct {
	TenantID string
}

func (IdentityChain) Kind() string  { return "identity_chain" }
func (IdentityChain) isCredential() {}

// HasTenant reports whether a developer CLI scoped identity was requested.
func (c IdentityChain) HasTenant() bool { return c.TenantID != "" }

// Resolve picks the credential strategy. A static API key wins over a tenant id,
// and a tenant id wins over the default chain.
func Resolve(cfg config.OpenAI) Credential {
	if cfg.APIKey != "" {
		slog.Info("using API key credential")
		return APIKey{Value: cfg.APIKey}
	}
	if cfg.TenantID != "" {
		slog.Info("using AzureDeveloperCliCredential", "tenant_id", cfg.TenantID)
		return IdentityChain{TenantID: cfg.TenantID}
	}
	slog.Info("using DefaultAzureCredential")
	return IdentityChain{}
}
