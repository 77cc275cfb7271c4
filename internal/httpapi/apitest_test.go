package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/foliohq/folio/internal/auth"
)

const (
	testSecret   = "httpapi-test-secret-0123456789abcdef"
	testPassword = "correct horse battery staple"
)

// memStore is an in-memory auth.Store for handler tests. Enough fidelity
// for the flows exercised here; the pg package tests the real queries.
type memStore struct {
	mu          sync.Mutex
	users       map[string]*auth.User
	sites       map[string]*auth.Site
	roles       map[string]*auth.Role
	assignments map[string]string // userID+"/"+siteID -> roleID
	backupCodes map[string]map[string]struct{}
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]*auth.User),
		sites:       make(map[string]*auth.Site),
		roles:       make(map[string]*auth.Role),
		assignments: make(map[string]string),
		backupCodes: make(map[string]map[string]struct{}),
	}
}

func (m *memStore) GetUser(ctx context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) RecordAuthFailure(ctx context.Context, userID string, threshold int, lockout time.Duration) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, nil, auth.ErrNotFound
	}
	u.FailedLogins++
	if u.FailedLogins >= threshold {
		until := time.Now().UTC().Add(lockout)
		u.LockedUntil = &until
		u.FailedLogins = 0
		return 0, &until, nil
	}
	return u.FailedLogins, u.LockedUntil, nil
}

func (m *memStore) ResetAuthFailures(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.FailedLogins = 0
	u.LockedUntil = nil
	return nil
}

func (m *memStore) SetPendingMFASecret(ctx context.Context, userID, secret string, setAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PendingMFASecret = secret
	u.PendingMFASetAt = &setAt
	return nil
}

func (m *memStore) ConfirmMFA(ctx context.Context, userID, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.MFAEnabled = true
	u.MFASecret = secret
	u.PendingMFASecret = ""
	u.PendingMFASetAt = nil
	return nil
}

func (m *memStore) DisableMFA(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.MFAEnabled = false
	u.MFASecret = ""
	u.PendingMFASecret = ""
	u.PendingMFASetAt = nil
	delete(m.backupCodes, userID)
	return nil
}

func (m *memStore) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	m.backupCodes[userID] = set
	return nil
}

func (m *memStore) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.backupCodes[userID]
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

func (m *memStore) GetSite(ctx context.Context, id string) (*auth.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetUserSiteRole(ctx context.Context, userID, siteID string) (*auth.UserSiteRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roleID, ok := m.assignments[userID+"/"+siteID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &auth.UserSiteRole{UserID: userID, SiteID: siteID, RoleID: roleID}, nil
}

func (m *memStore) GetRole(ctx context.Context, id string) (*auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp, nil
}

func (m *memStore) user(t *testing.T, id string) *auth.User {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		t.Fatalf("user %s not in store", id)
	}
	cp := *u
	return &cp
}

func (m *memStore) addRole(role *auth.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.ID] = role
}

func (m *memStore) assign(userID, siteID, roleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[userID+"/"+siteID] = roleID
}

// capturingRecorder keeps recorded security events for assertions.
type capturingRecorder struct {
	mu     sync.Mutex
	events []auth.Event
}

func (c *capturingRecorder) Record(ctx context.Context, e auth.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturingRecorder) byType(typ string) []auth.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []auth.Event
	for _, e := range c.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	api      *API
	svc      *auth.Service
	store    *memStore
	recorder *capturingRecorder
}

func newTestEnv(t *testing.T, opts ...auth.ServiceOption) *testEnv {
	t.Helper()
	store := newMemStore()
	recorder := &capturingRecorder{}
	opts = append([]auth.ServiceOption{auth.WithRecorder(recorder)}, opts...)
	svc, err := auth.NewService(store, testSecret, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(Config{
		Auth:           svc,
		LoginRateBurst: 1000,
	})
	return &testEnv{api: api, svc: svc, store: store, recorder: recorder}
}

// seedUser registers an active user with the given role on the site.
func (e *testEnv) seedUser(t *testing.T, id, email, siteID string, perms ...string) {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	e.store.mu.Lock()
	e.store.users[id] = &auth.User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
	}
	e.store.sites[siteID] = &auth.Site{ID: siteID, Name: siteID}
	e.store.mu.Unlock()

	roleID := "role-" + id
	e.store.addRole(&auth.Role{ID: roleID, Name: "tester", Permissions: perms})
	e.store.assign(id, siteID, roleID)
}

func (e *testEnv) token(t *testing.T, userID, siteID string) string {
	t.Helper()
	session, err := e.svc.Issue(context.Background(), userID, siteID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return session.Token
}
