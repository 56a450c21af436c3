package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"token-broker/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
	now    func() time.Time
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
		now:    time.Now,
	}

	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS principals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			last_seen_at INTEGER NOT NULL,
			admin BOOLEAN NOT NULL DEFAULT 0,
			disabled BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS pending_authorizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			principal_id INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			scopes TEXT NOT NULL,
			state_key TEXT NOT NULL UNIQUE,
			random_seed TEXT NOT NULL,
			existing_credential_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_expires_at ON pending_authorizations(expires_at)`,
		`CREATE TABLE IF NOT EXISTS access_credentials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			principal_id INTEGER NOT NULL,
			scopes TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			access_token_expiry INTEGER NOT NULL DEFAULT 0,
			refresh_token TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_principal ON access_credentials(principal_id)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Timestamps are stored as unix milliseconds so range scans compare integers.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type scanner interface {
	Scan(dest ...interface{}) error
}

const pendingColumns = `id, principal_id, created_at, expires_at, scopes, state_key, random_seed, existing_credential_id`

func scanPending(row scanner) (*storage.PendingAuthorization, error) {
	var p storage.PendingAuthorization
	var createdAt, expiresAt int64
	err := row.Scan(&p.ID, &p.PrincipalID, &createdAt, &expiresAt, &p.Scopes, &p.StateKey, &p.RandomSeed, &p.ExistingCredentialID)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(createdAt)
	p.ExpiresAt = fromMillis(expiresAt)
	return &p, nil
}

func (a *Adapter) CreatePendingAuthorization(ctx context.Context, p *storage.PendingAuthorization, seal storage.StateFunc) error {
	placeholder, err := unsealedState()
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO pending_authorizations
		(principal_id, created_at, expires_at, scopes, state_key, random_seed, existing_credential_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.PrincipalID, toMillis(p.CreatedAt), toMillis(p.ExpiresAt), p.Scopes, placeholder, p.RandomSeed, p.ExistingCredentialID)
	if err != nil {
		return fmt.Errorf("failed to insert pending authorization: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read pending authorization id: %w", err)
	}

	state, err := seal(id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE pending_authorizations SET state_key = ? WHERE id = ?`, state, id); err != nil {
		return fmt.Errorf("failed to seal pending authorization: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pending authorization: %w", err)
	}

	p.ID = id
	p.StateKey = state
	return nil
}

func (a *Adapter) GetPendingAuthorization(ctx context.Context, id int64) (*storage.PendingAuthorization, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_authorizations WHERE id = ?`
	p, err := scanPending(a.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending authorization: %w", err)
	}
	return p, nil
}

func (a *Adapter) GetPendingAuthorizationByState(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_authorizations WHERE state_key = ?`
	p, err := scanPending(a.db.QueryRowContext(ctx, query, state))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending authorization by state: %w", err)
	}
	return p, nil
}

func (a *Adapter) ConsumePendingAuthorization(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	query := `DELETE FROM pending_authorizations WHERE state_key = ? RETURNING ` + pendingColumns
	p, err := scanPending(a.db.QueryRowContext(ctx, query, state))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending authorization: %w", err)
	}
	return p, nil
}

func (a *Adapter) DeletePendingAuthorization(ctx context.Context, id int64) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM pending_authorizations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pending authorization: %w", err)
	}
	return nil
}

func (a *Adapter) ListExpiredPendingAuthorizations(ctx context.Context, cutoff time.Time) ([]*storage.PendingAuthorization, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_authorizations WHERE expires_at <= ? ORDER BY id`
	rows, err := a.db.QueryContext(ctx, query, toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired pending authorizations: %w", err)
	}
	defer rows.Close()

	var out []*storage.PendingAuthorization
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending authorization: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const credentialColumns = `id, principal_id, scopes, display_name, access_token, access_token_expiry, refresh_token, created_at, updated_at`

func scanCredential(row scanner) (*storage.AccessCredential, error) {
	var c storage.AccessCredential
	var expiry, createdAt, updatedAt int64
	err := row.Scan(&c.ID, &c.PrincipalID, &c.Scopes, &c.DisplayName, &c.AccessToken, &expiry, &c.RefreshToken, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.AccessTokenExpiry = fromMillis(expiry)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func (a *Adapter) CreateCredential(ctx context.Context, c *storage.AccessCredential) error {
	now := a.now().UTC()
	res, err := a.db.ExecContext(ctx, `INSERT INTO access_credentials
		(principal_id, scopes, display_name, access_token, access_token_expiry, refresh_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.PrincipalID, c.Scopes, c.DisplayName, c.AccessToken, toMillis(c.AccessTokenExpiry), c.RefreshToken,
		toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read credential id: %w", err)
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (a *Adapter) GetCredential(ctx context.Context, id int64) (*storage.AccessCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM access_credentials WHERE id = ?`
	c, err := scanCredential(a.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return c, nil
}

func (a *Adapter) UpdateCredential(ctx context.Context, c *storage.AccessCredential) error {
	now := a.now().UTC()
	res, err := a.db.ExecContext(ctx, `UPDATE access_credentials
		SET scopes = ?, display_name = ?, access_token = ?, access_token_expiry = ?, refresh_token = ?, updated_at = ?
		WHERE id = ?`,
		c.Scopes, c.DisplayName, c.AccessToken, toMillis(c.AccessTokenExpiry), c.RefreshToken, toMillis(now), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %d does not exist", c.ID)
	}
	c.UpdatedAt = now
	return nil
}

func (a *Adapter) UpdateCredentialTokens(ctx context.Context, id int64, accessToken string, expiry time.Time, refreshToken string) error {
	res, err := a.db.ExecContext(ctx, `UPDATE access_credentials
		SET access_token = ?, access_token_expiry = ?, refresh_token = ?, updated_at = ?
		WHERE id = ?`,
		accessToken, toMillis(expiry), refreshToken, toMillis(a.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update credential tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %d does not exist", id)
	}
	return nil
}

func (a *Adapter) ClearRefreshToken(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, `UPDATE access_credentials SET refresh_token = '', updated_at = ? WHERE id = ?`,
		toMillis(a.now()), id)
	if err != nil {
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}
	return nil
}

func (a *Adapter) ListCredentials(ctx context.Context, principalID int64) ([]*storage.AccessCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM access_credentials WHERE principal_id = ? ORDER BY id`
	rows, err := a.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []*storage.AccessCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (a *Adapter) DeleteCredential(ctx context.Context, principalID, id int64) (bool, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM access_credentials WHERE id = ? AND principal_id = ?`, id, principalID)
	if err != nil {
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}
	return n > 0, nil
}

func (a *Adapter) CreatePrincipal(ctx context.Context, admin bool) (*storage.Principal, error) {
	now := a.now().UTC()
	res, err := a.db.ExecContext(ctx, `INSERT INTO principals (created_at, last_seen_at, admin) VALUES (?, ?, ?)`,
		toMillis(now), toMillis(now), admin)
	if err != nil {
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read principal id: %w", err)
	}
	return &storage.Principal{ID: id, CreatedAt: now, LastSeenAt: now, Admin: admin}, nil
}

func (a *Adapter) GetPrincipal(ctx context.Context, id int64) (*storage.Principal, error) {
	var p storage.Principal
	var createdAt, lastSeen int64
	err := a.db.QueryRowContext(ctx, `SELECT id, created_at, last_seen_at, admin, disabled FROM principals WHERE id = ?`, id).
		Scan(&p.ID, &createdAt, &lastSeen, &p.Admin, &p.Disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.LastSeenAt = fromMillis(lastSeen)
	return &p, nil
}

func (a *Adapter) TouchPrincipal(ctx context.Context, id int64, at time.Time) error {
	if _, err := a.db.ExecContext(ctx, `UPDATE principals SET last_seen_at = ? WHERE id = ?`, toMillis(at), id); err != nil {
		return fmt.Errorf("failed to touch principal: %w", err)
	}
	return nil
}

func (a *Adapter) SetPrincipalDisabled(ctx context.Context, id int64, disabled bool) error {
	res, err := a.db.ExecContext(ctx, `UPDATE principals SET disabled = ? WHERE id = ?`, disabled, id)
	if err != nil {
		return fmt.Errorf("failed to update principal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("principal %d does not exist", id)
	}
	return nil
}

// unsealedState fills the unique state column until the real state is known.
func unsealedState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate placeholder state: %w", err)
	}
	return "unsealed:" + hex.EncodeToString(buf), nil
}
