package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"token-broker/internal/storage"
)

// Compile-time interface assertion.
var _ storage.Storage = (*Adapter)(nil)

type Adapter struct {
	pool   *pgxpool.Pool
	config *Config
	now    func() time.Time
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	adapter := &Adapter{pool: pool, config: config, now: time.Now}
	if err := adapter.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.pool.Ping(ctx)
}

func (a *Adapter) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS principals (
			id BIGSERIAL PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			admin BOOLEAN NOT NULL DEFAULT FALSE,
			disabled BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS pending_authorizations (
			id BIGSERIAL PRIMARY KEY,
			principal_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			scopes TEXT NOT NULL,
			state_key TEXT NOT NULL UNIQUE,
			random_seed TEXT NOT NULL,
			existing_credential_id BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_expires_at ON pending_authorizations(expires_at)`,
		`CREATE TABLE IF NOT EXISTS access_credentials (
			id BIGSERIAL PRIMARY KEY,
			principal_id BIGINT NOT NULL,
			scopes TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			access_token_expiry TIMESTAMPTZ NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_principal ON access_credentials(principal_id)`,
	}
	for _, query := range queries {
		if _, err := a.pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

const pendingColumns = `id, principal_id, created_at, expires_at, scopes, state_key, random_seed, existing_credential_id`

func scanPending(row pgx.Row) (*storage.PendingAuthorization, error) {
	var p storage.PendingAuthorization
	err := row.Scan(&p.ID, &p.PrincipalID, &p.CreatedAt, &p.ExpiresAt, &p.Scopes, &p.StateKey, &p.RandomSeed, &p.ExistingCredentialID)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()
	return &p, nil
}

// CreatePendingAuthorization reserves the id from the sequence first so the
// row is inserted already sealed in a single statement.
func (a *Adapter) CreatePendingAuthorization(ctx context.Context, p *storage.PendingAuthorization, seal storage.StateFunc) error {
	var id int64
	err := a.pool.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('pending_authorizations', 'id'))`).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to reserve pending authorization id: %w", err)
	}

	state, err := seal(id)
	if err != nil {
		return err
	}

	_, err = a.pool.Exec(ctx, `INSERT INTO pending_authorizations
		(id, principal_id, created_at, expires_at, scopes, state_key, random_seed, existing_credential_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, p.PrincipalID, p.CreatedAt, p.ExpiresAt, p.Scopes, state, p.RandomSeed, p.ExistingCredentialID)
	if err != nil {
		return fmt.Errorf("failed to insert pending authorization: %w", err)
	}

	p.ID = id
	p.StateKey = state
	return nil
}

func (a *Adapter) GetPendingAuthorization(ctx context.Context, id int64) (*storage.PendingAuthorization, error) {
	p, err := scanPending(a.pool.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_authorizations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending authorization: %w", err)
	}
	return p, nil
}

func (a *Adapter) GetPendingAuthorizationByState(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	p, err := scanPending(a.pool.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_authorizations WHERE state_key = $1`, state))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending authorization by state: %w", err)
	}
	return p, nil
}

func (a *Adapter) ConsumePendingAuthorization(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	p, err := scanPending(a.pool.QueryRow(ctx, `DELETE FROM pending_authorizations WHERE state_key = $1 RETURNING `+pendingColumns, state))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume pending authorization: %w", err)
	}
	return p, nil
}

func (a *Adapter) DeletePendingAuthorization(ctx context.Context, id int64) error {
	if _, err := a.pool.Exec(ctx, `DELETE FROM pending_authorizations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pending authorization: %w", err)
	}
	return nil
}

func (a *Adapter) ListExpiredPendingAuthorizations(ctx context.Context, cutoff time.Time) ([]*storage.PendingAuthorization, error) {
	rows, err := a.pool.Query(ctx, `SELECT `+pendingColumns+` FROM pending_authorizations WHERE expires_at <= $1 ORDER BY id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired pending authorizations: %w", err)
	}
	defer rows.Close()

	var out []*storage.PendingAuthorization
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending authorization: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const credentialColumns = `id, principal_id, scopes, display_name, access_token, access_token_expiry, refresh_token, created_at, updated_at`

func scanCredential(row pgx.Row) (*storage.AccessCredential, error) {
	var c storage.AccessCredential
	err := row.Scan(&c.ID, &c.PrincipalID, &c.Scopes, &c.DisplayName, &c.AccessToken, &c.AccessTokenExpiry, &c.RefreshToken, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.AccessTokenExpiry = c.AccessTokenExpiry.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (a *Adapter) CreateCredential(ctx context.Context, c *storage.AccessCredential) error {
	now := a.now().UTC()
	err := a.pool.QueryRow(ctx, `INSERT INTO access_credentials
		(principal_id, scopes, display_name, access_token, access_token_expiry, refresh_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		c.PrincipalID, c.Scopes, c.DisplayName, c.AccessToken, c.AccessTokenExpiry, c.RefreshToken, now).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (a *Adapter) GetCredential(ctx context.Context, id int64) (*storage.AccessCredential, error) {
	c, err := scanCredential(a.pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM access_credentials WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

func (a *Adapter) UpdateCredential(ctx context.Context, c *storage.AccessCredential) error {
	now := a.now().UTC()
	tag, err := a.pool.Exec(ctx, `UPDATE access_credentials
		SET scopes = $1, display_name = $2, access_token = $3, access_token_expiry = $4, refresh_token = $5, updated_at = $6
		WHERE id = $7`,
		c.Scopes, c.DisplayName, c.AccessToken, c.AccessTokenExpiry, c.RefreshToken, now, c.ID)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %d does not exist", c.ID)
	}
	c.UpdatedAt = now
	return nil
}

func (a *Adapter) UpdateCredentialTokens(ctx context.Context, id int64, accessToken string, expiry time.Time, refreshToken string) error {
	tag, err := a.pool.Exec(ctx, `UPDATE access_credentials
		SET access_token = $1, access_token_expiry = $2, refresh_token = $3, updated_at = $4
		WHERE id = $5`,
		accessToken, expiry, refreshToken, a.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update credential tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %d does not exist", id)
	}
	return nil
}

func (a *Adapter) ClearRefreshToken(ctx context.Context, id int64) error {
	_, err := a.pool.Exec(ctx, `UPDATE access_credentials SET refresh_token = '', updated_at = $1 WHERE id = $2`, a.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

func (a *Adapter) ListCredentials(ctx context.Context, principalID int64) ([]*storage.AccessCredential, error) {
	rows, err := a.pool.Query(ctx, `SELECT `+credentialColumns+` FROM access_credentials WHERE principal_id = $1 ORDER BY id`, principalID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*storage.AccessCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (a *Adapter) DeleteCredential(ctx context.Context, principalID, id int64) (bool, error) {
	tag, err := a.pool.Exec(ctx, `DELETE FROM access_credentials WHERE id = $1 AND principal_id = $2`, id, principalID)
	if err != nil {
		return false, fmt.Errorf("delete credential: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (a *Adapter) CreatePrincipal(ctx context.Context, admin bool) (*storage.Principal, error) {
	now := a.now().UTC()
	p := &storage.Principal{CreatedAt: now, LastSeenAt: now, Admin: admin}
	err := a.pool.QueryRow(ctx, `INSERT INTO principals (created_at, last_seen_at, admin) VALUES ($1, $1, $2) RETURNING id`,
		now, admin).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("create principal: %w", err)
	}
	return p, nil
}

func (a *Adapter) GetPrincipal(ctx context.Context, id int64) (*storage.Principal, error) {
	var p storage.Principal
	err := a.pool.QueryRow(ctx, `SELECT id, created_at, last_seen_at, admin, disabled FROM principals WHERE id = $1`, id).
		Scan(&p.ID, &p.CreatedAt, &p.LastSeenAt, &p.Admin, &p.Disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.LastSeenAt = p.LastSeenAt.UTC()
	return &p, nil
}

func (a *Adapter) TouchPrincipal(ctx context.Context, id int64, at time.Time) error {
	if _, err := a.pool.Exec(ctx, `UPDATE principals SET last_seen_at = $1 WHERE id = $2`, at.UTC(), id); err != nil {
		return fmt.Errorf("touch principal: %w", err)
	}
	return nil
}

func (a *Adapter) SetPrincipalDisabled(ctx context.Context, id int64, disabled bool) error {
	tag, err := a.pool.Exec(ctx, `UPDATE principals SET disabled = $1 WHERE id = $2`, disabled, id)
	if err != nil {
		return fmt.Errorf("update principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("principal %d does not exist", id)
	}
	return nil
}

// Factory registers the "postgres" backend.
type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	switch c := config.(type) {
	case *Config:
		return NewAdapter(c)
	case storage.GenericConfig:
		return NewAdapter(configFromGeneric(c))
	default:
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage")
	}
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
