package auth

import (
	"context"
	"sync"
	"time"
)

// fakeStore is an in-memory Store with the same atomicity guarantees the
// SQL implementation provides: failure counting and backup-code
// consumption happen under one lock.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]*User
	byEmail     map[string]string
	sites       map[string]*Site
	roles       map[string]*Role
	assignments map[string]map[string]*UserSiteRole // userID -> siteID
	backupCodes map[string]map[string]struct{}      // userID -> hash set
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]*User{},
		byEmail:     map[string]string{},
		sites:       map[string]*Site{},
		roles:       map[string]*Role{},
		assignments: map[string]map[string]*UserSiteRole{},
		backupCodes: map[string]map[string]struct{}{},
	}
}

func (f *fakeStore) addUser(u User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := u
	f.users[u.ID] = &cp
	f.byEmail[u.Email] = u.ID
}

func (f *fakeStore) addRole(r Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := r
	f.roles[r.ID] = &cp
}

func (f *fakeStore) assign(userID, siteID, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignments[userID] == nil {
		f.assignments[userID] = map[string]*UserSiteRole{}
	}
	f.assignments[userID][siteID] = &UserSiteRole{UserID: userID, SiteID: siteID, RoleID: roleID}
}

func (f *fakeStore) user(id string) User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.users[id]
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f.users[id]
	return &cp, nil
}

func (f *fakeStore) RecordAuthFailure(ctx context.Context, userID string, threshold int, lockout time.Duration) (int, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return 0, nil, ErrNotFound
	}
	u.FailedLogins++
	if u.FailedLogins >= threshold {
		until := time.Now().UTC().Add(lockout)
		u.LockedUntil = &until
		u.FailedLogins = 0
		cp := until
		return 0, &cp, nil
	}
	var until *time.Time
	if u.LockedUntil != nil {
		cp := *u.LockedUntil
		until = &cp
	}
	return u.FailedLogins, until, nil
}

func (f *fakeStore) ResetAuthFailures(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLogins = 0
	u.LockedUntil = nil
	return nil
}

func (f *fakeStore) SetPendingMFASecret(ctx context.Context, userID, secret string, setAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PendingMFASecret = secret
	cp := setAt
	u.PendingMFASetAt = &cp
	return nil
}

func (f *fakeStore) ConfirmMFA(ctx context.Context, userID, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.MFASecret = secret
	u.MFAEnabled = true
	u.PendingMFASecret = ""
	u.PendingMFASetAt = nil
	return nil
}

func (f *fakeStore) DisableMFA(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.MFAEnabled = false
	u.MFASecret = ""
	u.PendingMFASecret = ""
	u.PendingMFASetAt = nil
	delete(f.backupCodes, userID)
	return nil
}

func (f *fakeStore) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	f.backupCodes[userID] = set
	return nil
}

func (f *fakeStore) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.backupCodes[userID]
	if set == nil {
		return false, nil
	}
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

func (f *fakeStore) GetSite(ctx context.Context, id string) (*Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sites[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetUserSiteRole(ctx context.Context, userID, siteID string) (*UserSiteRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[userID][siteID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) GetRole(ctx context.Context, id string) (*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp, nil
}

var _ Store = (*fakeStore)(nil)

// captureRecorder collects recorded events.
type captureRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureRecorder) Record(ctx context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureRecorder) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}
