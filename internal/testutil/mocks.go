package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"token-broker/internal/oauth2"
	"token-broker/internal/storage"
)

// MockIdentityProvider is a testify mock of oauth2.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

var _ oauth2.IdentityProvider = (*MockIdentityProvider)(nil)

func (m *MockIdentityProvider) AuthorizationURL(callbackURL, scopes, state string) string {
	args := m.Called(callbackURL, scopes, state)
	return args.String(0)
}

func (m *MockIdentityProvider) Exchange(ctx context.Context, callbackURL, code string) (*oauth2.ProviderToken, error) {
	args := m.Called(ctx, callbackURL, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oauth2.ProviderToken), args.Error(1)
}

func (m *MockIdentityProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.ProviderToken, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oauth2.ProviderToken), args.Error(1)
}

func (m *MockIdentityProvider) VerifyIdentity(ctx context.Context, accessToken, verifyURL string) (string, error) {
	args := m.Called(ctx, accessToken, verifyURL)
	return args.String(0), args.Error(1)
}

// FailingStorage wraps a storage.Storage and returns the error registered in
// ErrorOnMethod instead of calling the wrapped method.
type FailingStorage struct {
	storage.Storage

	mu            sync.RWMutex
	errorOnMethod map[string]error
}

// NewFailingStorage wraps base with no failures configured
func NewFailingStorage(base storage.Storage) *FailingStorage {
	return &FailingStorage{
		Storage:       base,
		errorOnMethod: make(map[string]error),
	}
}

// FailOn makes method return err until cleared with a nil err
func (f *FailingStorage) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errorOnMethod, method)
		return
	}
	f.errorOnMethod[method] = err
}

func (f *FailingStorage) failure(method string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.errorOnMethod[method]
}

func (f *FailingStorage) GetPrincipal(ctx context.Context, id int64) (*storage.Principal, error) {
	if err := f.failure("GetPrincipal"); err != nil {
		return nil, err
	}
	return f.Storage.GetPrincipal(ctx, id)
}

func (f *FailingStorage) CreatePendingAuthorization(ctx context.Context, p *storage.PendingAuthorization, seal storage.StateFunc) error {
	if err := f.failure("CreatePendingAuthorization"); err != nil {
		return err
	}
	return f.Storage.CreatePendingAuthorization(ctx, p, seal)
}

func (f *FailingStorage) ConsumePendingAuthorization(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	if err := f.failure("ConsumePendingAuthorization"); err != nil {
		return nil, err
	}
	return f.Storage.ConsumePendingAuthorization(ctx, state)
}

func (f *FailingStorage) ListExpiredPendingAuthorizations(ctx context.Context, cutoff time.Time) ([]*storage.PendingAuthorization, error) {
	if err := f.failure("ListExpiredPendingAuthorizations"); err != nil {
		return nil, err
	}
	return f.Storage.ListExpiredPendingAuthorizations(ctx, cutoff)
}

func (f *FailingStorage) DeletePendingAuthorization(ctx context.Context, id int64) error {
	if err := f.failure("DeletePendingAuthorization"); err != nil {
		return err
	}
	return f.Storage.DeletePendingAuthorization(ctx, id)
}

func (f *FailingStorage) GetCredential(ctx context.Context, id int64) (*storage.AccessCredential, error) {
	if err := f.failure("GetCredential"); err != nil {
		return nil, err
	}
	return f.Storage.GetCredential(ctx, id)
}

func (f *FailingStorage) ClearRefreshToken(ctx context.Context, id int64) error {
	if err := f.failure("ClearRefreshToken"); err != nil {
		return err
	}
	return f.Storage.ClearRefreshToken(ctx, id)
}

func (f *FailingStorage) UpdateCredentialTokens(ctx context.Context, id int64, accessToken string, expiry time.Time, refreshToken string) error {
	if err := f.failure("UpdateCredentialTokens"); err != nil {
		return err
	}
	return f.Storage.UpdateCredentialTokens(ctx, id, accessToken, expiry, refreshToken)
}

func (f *FailingStorage) ListCredentials(ctx context.Context, principalID int64) ([]*storage.AccessCredential, error) {
	if err := f.failure("ListCredentials"); err != nil {
		return nil, err
	}
	return f.Storage.ListCredentials(ctx, principalID)
}
