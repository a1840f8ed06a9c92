// Package sqlite is the SQLite implementation of the tenant directory.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pipehub/pipehub/internal/storage"
	"github.com/pipehub/pipehub/internal/tenant"
)

// appIDAttempts bounds the retry loop on an AppID collision. Collisions in a
// 63-bit space are vanishingly rare, so hitting the bound means something is
// broken and we surface the constraint error.
const appIDAttempts = 5

// Store is a SQLite-backed TenantStore.
type Store struct {
	db *sqlx.DB
}

var _ storage.TenantStore = (*Store)(nil)

// New opens (creating if necessary) the database at dsn and initializes the
// schema.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id INTEGER NOT NULL UNIQUE,
			github_id INTEGER NOT NULL UNIQUE,
			github_login TEXT NOT NULL,
			block_list TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS wechat_apps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL UNIQUE REFERENCES tenants(id) ON DELETE CASCADE,
			corp_id TEXT NOT NULL,
			agent_id INTEGER NOT NULL,
			secret TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tenants_app_id ON tenants(app_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := s.db.GetContext(ctx, &t,
		`SELECT id, app_id, github_id, github_login, block_list FROM tenants WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant by id: %w", err)
	}
	return &t, nil
}

func (s *Store) FindByAppID(ctx context.Context, appID int64) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := s.db.GetContext(ctx, &t,
		`SELECT id, app_id, github_id, github_login, block_list FROM tenants WHERE app_id = ?`, appID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant by app id: %w", err)
	}
	return &t, nil
}

func (s *Store) FindByGitHubID(ctx context.Context, githubID int64) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := s.db.GetContext(ctx, &t,
		`SELECT id, app_id, github_id, github_login, block_list FROM tenants WHERE github_id = ?`, githubID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant by github id: %w", err)
	}
	return &t, nil
}

func (s *Store) Create(ctx context.Context, githubID int64, githubLogin string) (*tenant.Tenant, error) {
	var lastErr error
	for i := 0; i < appIDAttempts; i++ {
		appID, err := newAppID()
		if err != nil {
			return nil, err
		}

		res, err := s.db.ExecContext(ctx,
			`INSERT INTO tenants (app_id, github_id, github_login, block_list) VALUES (?, ?, ?, '')`,
			appID, githubID, githubLogin)
		if err != nil {
			if isAppIDConflict(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("failed to create tenant: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read new tenant id: %w", err)
		}

		return &tenant.Tenant{
			ID:          id,
			AppID:       appID,
			GitHubID:    githubID,
			GitHubLogin: githubLogin,
		}, nil
	}
	return nil, fmt.Errorf("failed to create tenant: %w", lastErr)
}

func (s *Store) Update(ctx context.Context, t *tenant.Tenant) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET github_login = ?, block_list = ? WHERE id = ?`,
		t.GitHubLogin, t.BlockList, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ResetAppID(ctx context.Context, tenantID int64) (*tenant.Tenant, error) {
	var lastErr error
	for i := 0; i < appIDAttempts; i++ {
		appID, err := newAppID()
		if err != nil {
			return nil, err
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE tenants SET app_id = ? WHERE id = ?`, appID, tenantID)
		if err != nil {
			if isAppIDConflict(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("failed to reset app id: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return nil, storage.ErrNotFound
		}

		var t tenant.Tenant
		if err := s.db.GetContext(ctx, &t,
			`SELECT id, app_id, github_id, github_login, block_list FROM tenants WHERE id = ?`, tenantID); err != nil {
			return nil, fmt.Errorf("failed to reload tenant: %w", err)
		}
		return &t, nil
	}
	return nil, fmt.Errorf("failed to reset app id: %w", lastErr)
}

func (s *Store) WeChatApp(ctx context.Context, tenantID int64) (*tenant.WeChatApp, error) {
	var app tenant.WeChatApp
	err := s.db.GetContext(ctx, &app,
		`SELECT id, tenant_id, corp_id, agent_id, secret FROM wechat_apps WHERE tenant_id = ?`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query wechat app: %w", err)
	}
	return &app, nil
}

func (s *Store) SaveWeChatApp(ctx context.Context, app *tenant.WeChatApp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wechat_apps (tenant_id, corp_id, agent_id, secret)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			corp_id = excluded.corp_id,
			agent_id = excluded.agent_id,
			secret = excluded.secret`,
		app.TenantID, app.CorpID, app.AgentID, app.Secret)
	if err != nil {
		return fmt.Errorf("failed to save wechat app: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// newAppID draws a random non-negative 63-bit identity.
func newAppID() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to generate app id: %w", err)
	}
	id := int64(binary.LittleEndian.Uint64(buf[:]) &^ (1 << 63))
	if id == 0 {
		id = 1
	}
	return id, nil
}

func isAppIDConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "tenants.app_id")
}
