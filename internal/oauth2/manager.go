package oauth2

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"token-broker/internal/circuitbreaker"
	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/storage"
)

const (
	// DefaultPendingLifetime bounds how long a principal has to finish authorizing.
	DefaultPendingLifetime = 10 * time.Minute
	// DefaultExpiryWindow is the renewal window used when callers have no preference.
	DefaultExpiryWindow = 2 * time.Minute
	// DefaultProviderTimeout bounds a refresh grant once it has started.
	DefaultProviderTimeout = 30 * time.Second
)

// Options configures a Manager. Zero values take the defaults.
type Options struct {
	// CallbackURL is sent as redirect_uri when exchanging codes. It must match
	// the callback URL passed to BeginAuthorization.
	CallbackURL     string
	PendingLifetime time.Duration
	// ProviderTimeout bounds a refresh grant, which outlives the caller's context.
	ProviderTimeout time.Duration
	Logger          logging.Logger
	// Clock replaces time.Now in tests.
	Clock func() time.Time
}

// Manager issues, correlates and renews credentials. It holds no per-request
// state; everything shared lives in the store.
type Manager struct {
	store           storage.Storage
	provider        IdentityProvider
	callbackURL     string
	pendingLifetime time.Duration
	providerTimeout time.Duration
	logger          logging.Logger
	now             func() time.Time
}

// NewManager creates a Manager over store and provider.
func NewManager(store storage.Storage, provider IdentityProvider, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.ConfigError("credential store is required")
	}
	if provider == nil {
		return nil, errors.ConfigError("identity provider is required")
	}
	if opts.PendingLifetime < 0 || opts.ProviderTimeout < 0 {
		return nil, errors.ConfigError("pending authorization lifetime and provider timeout must not be negative")
	}

	m := &Manager{
		store:           store,
		provider:        provider,
		callbackURL:     opts.CallbackURL,
		pendingLifetime: opts.PendingLifetime,
		providerTimeout: opts.ProviderTimeout,
		logger:          opts.Logger,
		now:             opts.Clock,
	}
	if m.pendingLifetime == 0 {
		m.pendingLifetime = DefaultPendingLifetime
	}
	if m.providerTimeout == 0 {
		m.providerTimeout = DefaultProviderTimeout
	}
	if m.logger == nil {
		m.logger = logging.GetGlobalLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// BeginAuthorization records a pending authorization for principalID and
// returns the provider URL the principal must visit. existingCredentialID is
// storage.NoCredential for a fresh grant, or a credential the principal owns
// that the callback should update.
func (m *Manager) BeginAuthorization(ctx context.Context, principalID int64, scopes, callbackURL string, existingCredentialID int64) (string, error) {
	principal, err := m.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return "", errors.InternalError("failed to load principal", err)
	}
	if !principal.Active() {
		return "", errors.NotFoundError(fmt.Sprintf("principal %d", principalID))
	}

	scopes = strings.TrimSpace(scopes)
	if scopes == "" {
		return "", errors.ValidationError("at least one scope is required")
	}

	if existingCredentialID != storage.NoCredential {
		existing, err := m.store.GetCredential(ctx, existingCredentialID)
		if err != nil {
			return "", errors.InternalError("failed to load credential", err)
		}
		if existing == nil || existing.PrincipalID != principalID {
			return "", errors.NotFoundError(fmt.Sprintf("credential %d", existingCredentialID))
		}
	}

	seed, err := newSeed()
	if err != nil {
		return "", errors.InternalError("failed to generate state", err)
	}

	now := m.now()
	pending := &storage.PendingAuthorization{
		PrincipalID:          principalID,
		CreatedAt:            now,
		ExpiresAt:            now.Add(m.pendingLifetime),
		Scopes:               scopes,
		RandomSeed:           hex.EncodeToString(seed),
		ExistingCredentialID: existingCredentialID,
	}

	seal := func(id int64) (string, error) {
		return deriveState(id, seed), nil
	}
	if err := m.store.CreatePendingAuthorization(ctx, pending, seal); err != nil {
		return "", errors.InternalError("failed to save pending authorization", err)
	}

	m.logger.Info("Authorization started",
		logging.Int64("principal_id", principalID),
		logging.Int64("pending_id", pending.ID),
		logging.Bool("reauthentication", pending.IsReauthentication()),
		logging.Time("expires_at", pending.ExpiresAt),
	)

	return m.provider.AuthorizationURL(callbackURL, scopes, pending.StateKey), nil
}

// CompleteAuthorization finishes the grant started for state. The pending
// authorization is consumed before the code is exchanged, so every state
// works at most once whatever the outcome.
func (m *Manager) CompleteAuthorization(ctx context.Context, state, code, verifyURL string) error {
	if code == "" {
		return errors.ValidationError("authorization code is required")
	}

	pending, err := m.store.ConsumePendingAuthorization(ctx, state)
	if err != nil {
		return errors.InternalError("failed to consume pending authorization", err)
	}
	if pending == nil || !statesEqual(pending.StateKey, state) {
		return errors.NotFoundError("pending authorization")
	}
	if pending.Expired(m.now()) {
		m.logger.Debug("Callback arrived after pending authorization expired",
			logging.Int64("pending_id", pending.ID),
			logging.Int64("principal_id", pending.PrincipalID),
		)
		return errors.NotFoundError("pending authorization")
	}

	log := m.logger.WithFields(
		logging.Int64("principal_id", pending.PrincipalID),
		logging.Int64("pending_id", pending.ID),
	)

	token, err := m.provider.Exchange(ctx, m.callbackURL, code)
	if err != nil {
		log.Warn("Code exchange failed", logging.Err(err))
		return errors.ExchangeFailedError(err)
	}

	displayName, err := m.provider.VerifyIdentity(ctx, token.AccessToken, verifyURL)
	if err != nil {
		log.Warn("Identity verification failed", logging.Err(err))
		return errors.VerificationFailedError(err)
	}

	expiry := m.now().Add(token.ExpiresIn)

	var credential *storage.AccessCredential
	if pending.IsReauthentication() {
		credential, err = m.store.GetCredential(ctx, pending.ExistingCredentialID)
		if err != nil {
			return errors.InternalError("failed to load credential", err)
		}
		if credential == nil || credential.PrincipalID != pending.PrincipalID {
			log.Warn("Re-authentication target no longer belongs to principal",
				logging.Int64("credential_id", pending.ExistingCredentialID),
			)
			return errors.OwnershipMismatchError(fmt.Sprintf("credential %d is not owned by principal %d",
				pending.ExistingCredentialID, pending.PrincipalID))
		}

		credential.Scopes = pending.Scopes
		credential.DisplayName = displayName
		credential.AccessToken = token.AccessToken
		credential.AccessTokenExpiry = expiry
		credential.RefreshToken = token.RefreshToken
		if err := m.store.UpdateCredential(ctx, credential); err != nil {
			return errors.InternalError("failed to update credential", err)
		}
	} else {
		credential = &storage.AccessCredential{
			PrincipalID:       pending.PrincipalID,
			Scopes:            pending.Scopes,
			DisplayName:       displayName,
			AccessToken:       token.AccessToken,
			AccessTokenExpiry: expiry,
			RefreshToken:      token.RefreshToken,
		}
		if err := m.store.CreateCredential(ctx, credential); err != nil {
			return errors.InternalError("failed to create credential", err)
		}
	}

	if err := m.store.TouchPrincipal(ctx, pending.PrincipalID, m.now()); err != nil {
		log.Warn("Failed to record principal activity", logging.Err(err))
	}

	log.Info("Authorization completed",
		logging.Int64("credential_id", credential.ID),
		logging.String("display_name", displayName),
		logging.Bool("usable", credential.Usable()),
	)
	return nil
}

// GetUsableAccessToken returns an access token for credentialID that stays
// valid for at least window, refreshing it first when needed.
func (m *Manager) GetUsableAccessToken(ctx context.Context, credentialID int64, window time.Duration) (string, error) {
	credential, err := m.usableCredential(ctx, credentialID, window, nil)
	if err != nil {
		return "", err
	}
	return credential.AccessToken, nil
}

// GetPrincipalCredential is GetUsableAccessToken restricted to credentials
// owned by principalID. It returns the whole credential so callers can report the expiry.
func (m *Manager) GetPrincipalCredential(ctx context.Context, principalID, credentialID int64, window time.Duration) (*storage.AccessCredential, error) {
	owned := func(c *storage.AccessCredential) bool {
		return c.PrincipalID == principalID
	}
	return m.usableCredential(ctx, credentialID, window, owned)
}

// AuthorizationHeader returns the Authorization header value for credentialID.
func (m *Manager) AuthorizationHeader(ctx context.Context, credentialID int64, window time.Duration) (string, error) {
	token, err := m.GetUsableAccessToken(ctx, credentialID, window)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

func (m *Manager) usableCredential(ctx context.Context, credentialID int64, window time.Duration, visible func(*storage.AccessCredential) bool) (*storage.AccessCredential, error) {
	if window < 0 {
		return nil, errors.ValidationError("expiry window must not be negative")
	}

	credential, err := m.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, errors.InternalError("failed to load credential", err)
	}
	if credential == nil || (visible != nil && !visible(credential)) {
		return nil, errors.NotFoundError(fmt.Sprintf("credential %d", credentialID))
	}

	if credential.AccessTokenExpiry.Sub(m.now()) >= window {
		return credential, nil
	}

	if !credential.Usable() {
		return nil, errors.InvalidatedError(credentialID)
	}

	log := m.logger.WithFields(
		logging.Int64("credential_id", credentialID),
		logging.Int64("principal_id", credential.PrincipalID),
	)

	// The grant and the write after it run to completion even if the caller
	// goes away; a rotated refresh token must reach the store.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.providerTimeout)
	defer cancel()

	token, err := m.provider.Refresh(ctx, credential.RefreshToken)
	if err != nil {
		// The breaker refused before reaching the provider, so the refresh
		// token was never presented and stays valid.
		if circuitbreaker.IsRejected(err) {
			log.Warn("Refresh skipped, identity provider circuit open", logging.Err(err))
			return nil, err
		}

		if clearErr := m.store.ClearRefreshToken(ctx, credentialID); clearErr != nil {
			return nil, errors.InternalError("failed to invalidate credential after refresh failure", clearErr)
		}
		log.Warn("Refresh rejected, credential invalidated", logging.Err(err))
		return nil, errors.RefreshRejectedError(credentialID, err)
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = credential.RefreshToken
	}
	expiry := m.now().Add(token.ExpiresIn)

	if err := m.store.UpdateCredentialTokens(ctx, credentialID, token.AccessToken, expiry, refreshToken); err != nil {
		return nil, errors.InternalError("failed to save refreshed tokens", err)
	}

	credential.AccessToken = token.AccessToken
	credential.AccessTokenExpiry = expiry
	credential.RefreshToken = refreshToken

	log.Debug("Access token refreshed", logging.Time("expires_at", expiry))
	return credential, nil
}

// ListCredentials returns the credentials owned by principalID.
func (m *Manager) ListCredentials(ctx context.Context, principalID int64) ([]*storage.AccessCredential, error) {
	credentials, err := m.store.ListCredentials(ctx, principalID)
	if err != nil {
		return nil, errors.InternalError("failed to list credentials", err)
	}
	return credentials, nil
}

// DeleteCredential removes a credential owned by principalID. Credentials of
// other principals are reported as not found.
func (m *Manager) DeleteCredential(ctx context.Context, principalID, credentialID int64) error {
	deleted, err := m.store.DeleteCredential(ctx, principalID, credentialID)
	if err != nil {
		return errors.InternalError("failed to delete credential", err)
	}
	if !deleted {
		return errors.NotFoundError(fmt.Sprintf("credential %d", credentialID))
	}

	m.logger.Info("Credential deleted",
		logging.Int64("principal_id", principalID),
		logging.Int64("credential_id", credentialID),
	)
	return nil
}
