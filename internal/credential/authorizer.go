package credential

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// CognitiveServicesScope is the token audience for Azure OpenAI.
const CognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

// NewTokenCredential builds the identity provider for an IdentityChain.
func NewTokenCredential(c IdentityChain) (azcore.TokenCredential, error) {
	if c.HasTenant() {
		cred, err := azidentity.NewAzureDeveloperCLICredential(&azidentity.AzureDeveloperCLICredentialOptions{
			TenantID: c.TenantID,
		})
		if err != nil {
			return nil, fmt.Errorf("azure developer cli credential: %w", err)
		}
		return cred, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("default azure credential: %w", err)
	}
	return cred, nil
}

// Authorizer stamps backend requests with the resolved credential. It holds no
// mutable state and is shared by every request handler.
type Authorizer struct {
	cred  Credential
	token azcore.TokenCredential // nil for APIKey
}

// NewAuthorizer constructs only the mechanism the credential selects.
func NewAuthorizer(c Credential) (*Authorizer, error) {
	switch v := c.(type) {
	case APIKey:
		return &Authorizer{cred: v}, nil
	case IdentityChain:
		tc, err := NewTokenCredential(v)
		if err != nil {
			return nil, err
		}
		return &Authorizer{cred: v, token: tc}, nil
	default:
		return nil, fmt.Errorf("unsupported credential %T", c)
	}
}

// NewAuthorizerWithToken pairs an IdentityChain with an existing token source.
func NewAuthorizerWithToken(c IdentityChain, tc azcore.TokenCredential) *Authorizer {
	return &Authorizer{cred: c, token: tc}
}

func (a *Authorizer) Credential() Credential { return a.cred }

// TokenCredential returns the identity provider, or nil for API key auth.
func (a *Authorizer) TokenCredential() azcore.TokenCredential { return a.token }

// Apply sets the auth header for one backend call.
func (a *Authorizer) Apply(ctx context.Context, h http.Header) error {
	switch v := a.cred.(type) {
	case APIKey:
		h.Set("api-key", v.Value)
		return nil
	case IdentityChain:
		tok, err := a.token.GetToken(ctx, policy.TokenRequestOptions{
			Scopes: []string{CognitiveServicesScope},
		})
		if err != nil {
			return fmt.Errorf("get backend token: %w", err)
		}
		h.Set("Authorization", "Bearer "+tok.Token)
		return nil
	default:
		return fmt.Errorf("unsupported credential %T", a.cred)
	}
}
