package identity

import (
	"context"
	"sync"
	"time"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/db/models"
)

// mockUserRepository for testing
type mockUserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User // id → user
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: map[string]*models.User{}}
}

func (m *mockUserRepository) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return apperr.ErrConflict
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFoundf("user %s", id)
}

func (m *mockUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperr.NotFoundf("user with email %s", email)
}

func (m *mockUserRepository) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

// mockSessionRepository for testing
type mockSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.Session // tokenHash → session
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{sessions: map[string]*models.Session{}}
}

func (m *mockSessionRepository) Create(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.TokenHash] = session
	return nil
}

func (m *mockSessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[tokenHash]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, apperr.NotFoundf("session")
}

func (m *mockSessionRepository) Revoke(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == id && s.RevokedAt == nil {
			s.RevokedAt = &at
		}
	}
	return nil
}

// mockEntitlementRepository for testing
type mockEntitlementRepository struct {
	mu     sync.Mutex
	grants map[string]map[string]bool // userID → datasetID set
}

func newMockEntitlementRepository() *mockEntitlementRepository {
	return &mockEntitlementRepository{grants: map[string]map[string]bool{}}
}

func (m *mockEntitlementRepository) Grant(_ context.Context, userID, datasetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grants[userID] == nil {
		m.grants[userID] = map[string]bool{}
	}
	m.grants[userID][datasetID] = true
	return nil
}

func (m *mockEntitlementRepository) Claim(_ context.Context, userID, datasetID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for holder, set := range m.grants {
		if set[datasetID] {
			return holder == userID, nil
		}
	}
	if m.grants[userID] == nil {
		m.grants[userID] = map[string]bool{}
	}
	m.grants[userID][datasetID] = true
	return true, nil
}

func (m *mockEntitlementRepository) RevokeDataset(_ context.Context, datasetID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, set := range m.grants {
		if set[datasetID] {
			delete(set, datasetID)
			n++
		}
	}
	return n, nil
}

func (m *mockEntitlementRepository) ListDatasetIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for id := range m.grants[userID] {
		out = append(out, id)
	}
	return out, nil
}

func (m *mockEntitlementRepository) has(userID, datasetID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[userID][datasetID]
}

// fakeDatasets is a DatasetChecker over a fixed set of ids.
type fakeDatasets struct {
	mu  sync.Mutex
	ids map[string]bool
	err error
}

func newFakeDatasets(ids ...string) *fakeDatasets {
	f := &fakeDatasets{ids: map[string]bool{}}
	for _, id := range ids {
		f.ids[id] = true
	}
	return f
}

func (f *fakeDatasets) DatasetExists(_ context.Context, datasetID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.ids[datasetID], nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
