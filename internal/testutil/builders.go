package testutil

import (
	"time"

	"token-broker/internal/storage"
)

// CredentialBuilder helps build test credentials
type CredentialBuilder struct {
	credential *storage.AccessCredential
}

// NewCredentialBuilder starts from a usable credential that expires in an hour
func NewCredentialBuilder(principalID int64) *CredentialBuilder {
	return &CredentialBuilder{
		credential: &storage.AccessCredential{
			PrincipalID:       principalID,
			Scopes:            "read",
			DisplayName:       "Test Pilot",
			AccessToken:       "access-token",
			AccessTokenExpiry: time.Now().Add(time.Hour).Truncate(time.Millisecond),
			RefreshToken:      "refresh-token",
		},
	}
}

func (b *CredentialBuilder) WithScopes(scopes string) *CredentialBuilder {
	b.credential.Scopes = scopes
	return b
}

func (b *CredentialBuilder) WithAccessToken(token string, expiry time.Time) *CredentialBuilder {
	b.credential.AccessToken = token
	b.credential.AccessTokenExpiry = expiry.Truncate(time.Millisecond)
	return b
}

func (b *CredentialBuilder) WithRefreshToken(token string) *CredentialBuilder {
	b.credential.RefreshToken = token
	return b
}

// Invalidated clears the refresh token
func (b *CredentialBuilder) Invalidated() *CredentialBuilder {
	b.credential.RefreshToken = ""
	return b
}

func (b *CredentialBuilder) Build() *storage.AccessCredential {
	c := *b.credential
	return &c
}
