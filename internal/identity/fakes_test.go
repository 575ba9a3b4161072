package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memCreds struct {
	mu       sync.Mutex
	seq      int
	accounts map[string]Account
	now      func() time.Time

	failCreate func(username string) error
	failUpdate func(id string, patch AccountPatch) error
	failDelete func(id string) error
	// afterList runs once List has taken its snapshot, outside the lock.
	afterList func()
}

func newMemCreds(now func() time.Time) *memCreds {
	return &memCreds{accounts: map[string]Account{}, now: now}
}

func (m *memCreds) Create(_ context.Context, username, hash string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		if err := m.failCreate(username); err != nil {
			return Account{}, err
		}
	}
	for _, a := range m.accounts {
		if a.Username == username {
			return Account{}, ErrAlreadyExists
		}
	}
	m.seq++
	now := m.now()
	a := Account{ID: fmt.Sprintf("acct-%02d", m.seq), Username: username, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}
	m.accounts[a.ID] = a
	return a, nil
}

func (m *memCreds) FindByUsername(_ context.Context, username string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Username == username {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (m *memCreds) FindByID(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (m *memCreds) Update(_ context.Context, id string, patch AccountPatch) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		if err := m.failUpdate(id, patch); err != nil {
			return Account{}, err
		}
	}
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if patch.Username != nil {
		a.Username = *patch.Username
	}
	if patch.PasswordHash != nil {
		a.PasswordHash = *patch.PasswordHash
	}
	a.UpdatedAt = m.now()
	m.accounts[id] = a
	return a, nil
}

func (m *memCreds) Delete(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		if err := m.failDelete(id); err != nil {
			return Account{}, err
		}
	}
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	delete(m.accounts, id)
	return a, nil
}

func (m *memCreds) List(context.Context) ([]Account, error) {
	m.mu.Lock()
	res := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		res = append(res, a)
	}
	hook := m.afterList
	m.mu.Unlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	if hook != nil {
		hook()
	}
	return res, nil
}

// memSide fails any operation named in fail ("UpsertProfile", "DeleteGrant", ...).
type memSide struct {
	mu       sync.Mutex
	profiles map[string]Profile
	grants   map[string]Grant
	fail     map[string]error
}

func newMemSide() *memSide {
	return &memSide{profiles: map[string]Profile{}, grants: map[string]Grant{}, fail: map[string]error{}}
}

func (m *memSide) injected(op string) error {
	return m.fail[op]
}

func (m *memSide) FindProfile(_ context.Context, id string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("FindProfile"); err != nil {
		return Profile{}, err
	}
	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *memSide) UpsertProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("UpsertProfile"); err != nil {
		return err
	}
	m.profiles[p.ID] = p
	return nil
}

func (m *memSide) DeleteProfile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DeleteProfile"); err != nil {
		return err
	}
	if _, ok := m.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(m.profiles, id)
	return nil
}

func (m *memSide) ListProfiles(context.Context) ([]Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *memSide) FindGrant(_ context.Context, id string) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return Grant{}, ErrNotFound
	}
	return g, nil
}

func (m *memSide) UpsertGrant(_ context.Context, g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("UpsertGrant"); err != nil {
		return err
	}
	m.grants[g.ID] = g
	return nil
}

func (m *memSide) DeleteGrant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DeleteGrant"); err != nil {
		return err
	}
	if _, ok := m.grants[id]; !ok {
		return ErrNotFound
	}
	delete(m.grants, id)
	return nil
}

func (m *memSide) ListGrants(context.Context) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Grant, 0, len(m.grants))
	for _, g := range m.grants {
		res = append(res, g)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

type fakeIssuer struct {
	now       func() time.Time
	lastID    string
	lastTTL   time.Duration
	lastEpoch int
}

func (f *fakeIssuer) Issue(accountID string, ttl time.Duration, epoch int) (string, time.Time, time.Time, error) {
	f.lastID, f.lastTTL, f.lastEpoch = accountID, ttl, epoch
	iat := f.now()
	return "token-" + accountID, iat, iat.Add(ttl), nil
}
