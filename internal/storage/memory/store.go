// Package memory is an in-memory TenantStore used by tests and by
// deployments that run without a database file.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pipehub/pipehub/internal/storage"
	"github.com/pipehub/pipehub/internal/tenant"
)

// Store is a map-backed TenantStore mirroring the SQLite semantics.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	tenants map[int64]*tenant.Tenant    // keyed by row id
	byApp   map[int64]int64             // app id -> row id
	byGit   map[int64]int64             // github id -> row id
	wechat  map[int64]*tenant.WeChatApp // keyed by tenant id
}

var _ storage.TenantStore = (*Store)(nil)

func New() *Store {
	return &Store{
		nextID:  1,
		tenants: make(map[int64]*tenant.Tenant),
		byApp:   make(map[int64]int64),
		byGit:   make(map[int64]int64),
		wechat:  make(map[int64]*tenant.WeChatApp),
	}
}

func (s *Store) FindByID(_ context.Context, id int64) (*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (s *Store) FindByAppID(_ context.Context, appID int64) (*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byApp[appID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	t := *s.tenants[id]
	return &t, nil
}

func (s *Store) FindByGitHubID(_ context.Context, githubID int64) (*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byGit[githubID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	t := *s.tenants[id]
	return &t, nil
}

func (s *Store) Create(_ context.Context, githubID int64, githubLogin string) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byGit[githubID]; ok {
		return nil, fmt.Errorf("tenant for github id %d already exists", githubID)
	}

	appID, err := s.newAppIDLocked()
	if err != nil {
		return nil, err
	}

	t := &tenant.Tenant{
		ID:          s.nextID,
		AppID:       appID,
		GitHubID:    githubID,
		GitHubLogin: githubLogin,
	}
	s.nextID++
	s.tenants[t.ID] = t
	s.byApp[t.AppID] = t.ID
	s.byGit[t.GitHubID] = t.ID

	out := *t
	return &out, nil
}

func (s *Store) Update(_ context.Context, t *tenant.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tenants[t.ID]
	if !ok {
		return storage.ErrNotFound
	}
	cur.GitHubLogin = t.GitHubLogin
	cur.BlockList = t.BlockList
	return nil
}

func (s *Store) ResetAppID(_ context.Context, tenantID int64) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tenants[tenantID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	appID, err := s.newAppIDLocked()
	if err != nil {
		return nil, err
	}
	delete(s.byApp, cur.AppID)
	cur.AppID = appID
	s.byApp[appID] = cur.ID

	out := *cur
	return &out, nil
}

func (s *Store) WeChatApp(_ context.Context, tenantID int64) (*tenant.WeChatApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.wechat[tenantID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *app
	return &out, nil
}

func (s *Store) SaveWeChatApp(_ context.Context, app *tenant.WeChatApp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[app.TenantID]; !ok {
		return storage.ErrNotFound
	}
	stored := *app
	s.wechat[app.TenantID] = &stored
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) newAppIDLocked() (int64, error) {
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to generate app id: %w", err)
		}
		id := int64(binary.LittleEndian.Uint64(buf[:]) &^ (1 << 63))
		if id == 0 {
			continue
		}
		if _, taken := s.byApp[id]; !taken {
			return id, nil
		}
	}
}
