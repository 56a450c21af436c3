package oauth2

import (
	"context"
	"time"
)

// ProviderToken is what the identity provider returns from the code and refresh grants.
type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the provider-reported lifetime of AccessToken.
	ExpiresIn time.Duration
}

// IdentityProvider is the OAuth2 provider the broker is registered with.
// The client ID and secret belong to the implementation.
type IdentityProvider interface {
	// AuthorizationURL builds the redirect that starts the code grant.
	AuthorizationURL(callbackURL, scopes, state string) string
	Exchange(ctx context.Context, callbackURL, code string) (*ProviderToken, error)
	Refresh(ctx context.Context, refreshToken string) (*ProviderToken, error)
	// VerifyIdentity calls verifyURL with accessToken as bearer and returns the principal's display name.
	VerifyIdentity(ctx context.Context, accessToken, verifyURL string) (string, error)
}
