// Package storage defines the persistent tenant directory consumed by the
// relay and the account handlers.
package storage

import (
	"context"
	"errors"

	"github.com/pipehub/pipehub/internal/tenant"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("not found")

// TenantStore is the tenant directory. Implementations must be safe for
// concurrent use.
type TenantStore interface {
	// FindByID looks up a tenant by its row id.
	FindByID(ctx context.Context, id int64) (*tenant.Tenant, error)

	// FindByAppID looks up a tenant by its public numeric identity.
	FindByAppID(ctx context.Context, appID int64) (*tenant.Tenant, error)

	// FindByGitHubID looks up a tenant by the GitHub account that owns it.
	FindByGitHubID(ctx context.Context, githubID int64) (*tenant.Tenant, error)

	// Create registers a new tenant for a GitHub account and assigns it a
	// fresh random AppID.
	Create(ctx context.Context, githubID int64, githubLogin string) (*tenant.Tenant, error)

	// Update persists mutable tenant fields (login, block list).
	Update(ctx context.Context, t *tenant.Tenant) error

	// ResetAppID assigns the tenant a new random AppID, invalidating the
	// previously published app key.
	ResetAppID(ctx context.Context, tenantID int64) (*tenant.Tenant, error)

	// WeChatApp returns the tenant's registered WeChat Work credentials.
	WeChatApp(ctx context.Context, tenantID int64) (*tenant.WeChatApp, error)

	// SaveWeChatApp creates or replaces the tenant's WeChat Work credentials.
	SaveWeChatApp(ctx context.Context, app *tenant.WeChatApp) error

	Close() error
}
