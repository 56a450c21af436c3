// Package storage defines the persistent records of the token lifecycle and
// the store contracts that the sqlite, postgres, memory and redis backends implement.
//
// Every store method is one atomic unit against one record. Lookups that miss
// return (nil, nil); only infrastructure failures produce an error.
package storage

import (
	"context"
	"time"
)

// NoCredential marks a pending authorization that is a fresh grant rather than a re-authentication.
const NoCredential int64 = 0

// PendingAuthorization binds an authorization redirect to its later callback.
type PendingAuthorization struct {
	ID          int64     `json:"id"`
	PrincipalID int64     `json:"principal_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scopes      string    `json:"scopes"`
	StateKey    string    `json:"state_key"`
	// RandomSeed is hex encoded; StateKey is derived from it and ID.
	RandomSeed           string `json:"random_seed"`
	ExistingCredentialID int64  `json:"existing_credential_id"`
}

// Expired reports whether the reaper may delete the record at now.
func (p *PendingAuthorization) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// IsReauthentication reports whether the callback should update an existing credential.
func (p *PendingAuthorization) IsReauthentication() bool {
	return p.ExistingCredentialID != NoCredential
}

// AccessCredential is a principal's current access/refresh token pair.
type AccessCredential struct {
	ID                int64     `json:"id"`
	PrincipalID       int64     `json:"principal_id"`
	Scopes            string    `json:"scopes"`
	DisplayName       string    `json:"display_name"`
	AccessToken       string    `json:"-"`
	AccessTokenExpiry time.Time `json:"access_token_expiry"`
	RefreshToken      string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Usable reports whether the credential can still be refreshed.
func (c *AccessCredential) Usable() bool {
	return c.RefreshToken != ""
}

// Principal is an external account tokens are issued for.
type Principal struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Admin      bool      `json:"admin"`
	Disabled   bool      `json:"disabled"`
}

// Active reports whether the principal may start authorizations.
func (p *Principal) Active() bool {
	return p != nil && !p.Disabled
}

// StateFunc derives the correlation token once the store has assigned the record ID.
type StateFunc func(id int64) (string, error)

// PendingAuthorizationStore persists in-flight authorization attempts.
type PendingAuthorizationStore interface {
	// CreatePendingAuthorization assigns p.ID, calls seal to fill p.StateKey and persists p.
	CreatePendingAuthorization(ctx context.Context, p *PendingAuthorization, seal StateFunc) error
	GetPendingAuthorization(ctx context.Context, id int64) (*PendingAuthorization, error)
	GetPendingAuthorizationByState(ctx context.Context, state string) (*PendingAuthorization, error)
	// ConsumePendingAuthorization looks up and deletes the record for state in one step.
	// Of any number of concurrent callers at most one receives the record.
	ConsumePendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error)
	// DeletePendingAuthorization is a no-op when the record is already gone.
	DeletePendingAuthorization(ctx context.Context, id int64) error
	ListExpiredPendingAuthorizations(ctx context.Context, cutoff time.Time) ([]*PendingAuthorization, error)
}

// CredentialStore persists access credentials.
type CredentialStore interface {
	// CreateCredential assigns c.ID and writes every field in one insert.
	CreateCredential(ctx context.Context, c *AccessCredential) error
	GetCredential(ctx context.Context, id int64) (*AccessCredential, error)
	// UpdateCredential overwrites scopes, display name and the token triple.
	UpdateCredential(ctx context.Context, c *AccessCredential) error
	// UpdateCredentialTokens writes access token, expiry and refresh token together.
	UpdateCredentialTokens(ctx context.Context, id int64, accessToken string, expiry time.Time, refreshToken string) error
	ClearRefreshToken(ctx context.Context, id int64) error
	ListCredentials(ctx context.Context, principalID int64) ([]*AccessCredential, error)
	// DeleteCredential removes the credential only when principalID owns it.
	DeleteCredential(ctx context.Context, principalID, id int64) (bool, error)
}

// PrincipalDirectory resolves the accounts credentials belong to.
type PrincipalDirectory interface {
	CreatePrincipal(ctx context.Context, admin bool) (*Principal, error)
	GetPrincipal(ctx context.Context, id int64) (*Principal, error)
	TouchPrincipal(ctx context.Context, id int64, at time.Time) error
	SetPrincipalDisabled(ctx context.Context, id int64, disabled bool) error
}

// Storage is the full store a token broker runs against.
type Storage interface {
	PendingAuthorizationStore
	CredentialStore
	PrincipalDirectory

	Close() error
	Health() error
}

// StorageConfig is implemented by each backend's configuration.
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

// StorageFactory builds one backend.
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}

// GenericConfig is a map-based StorageConfig for building backends from application config.
type GenericConfig map[string]interface{}

func (gc GenericConfig) Validate() error {
	return nil
}

func (gc GenericConfig) GetType() string {
	if t, ok := gc["type"].(string); ok {
		return t
	}
	return "unknown"
}

func (gc GenericConfig) GetConnectionString() string {
	if cs, ok := gc["connection_string"].(string); ok {
		return cs
	}
	return ""
}

// String returns key as a string, or "" when missing.
func (gc GenericConfig) String(key string) string {
	if v, ok := gc[key].(string); ok {
		return v
	}
	return ""
}
