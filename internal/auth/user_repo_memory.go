package auth

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryUserRepo is a threadsafe in-memory storage useful for tests & single-instance servers.
// NOT suitable for production without persistence.
// It also handles incremental ID assignment.
// ID counter starts from 1.
//
// All getters return copies: callers mutate their snapshot freely and
// persist through UpdateUser, which is the only write path under the lock
// (same read-copy/write-row behavior as the MariaDB repo).
type MemoryUserRepo struct {
	mu     sync.RWMutex
	users  map[string]*User // key = lowercase(username)
	byID   map[uint64]*User
	nextID uint64
}

// NewMemoryUserRepo returns an empty repository.
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:  make(map[string]*User),
		byID:   make(map[uint64]*User),
		nextID: 1,
	}
}

// GetUserByUsername retrieves user by case-insensitive username.
func (r *MemoryUserRepo) GetUserByUsername(username string) (*User, error) {
	key := normalize(username)
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[key]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(user), nil
}

// GetUserByID retrieves user by ID.
func (r *MemoryUserRepo) GetUserByID(id uint64) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(user), nil
}

// CreateUser inserts a new user if username not present.
// New accounts start as players with the default balance.
func (r *MemoryUserRepo) CreateUser(username string, passwordHash string, role Role) (*User, error) {
	key := normalize(username)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[key]; exists {
		return nil, ErrUserExists
	}

	user := &User{
		ID:           r.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		Cash:         250.0,
		Rep:          0,
		RankIndex:    0,
		CreatedAt:    time.Now(),
		LastSeen:     time.Now(),
	}
	r.nextID++
	r.users[key] = user
	r.byID[user.ID] = user
	return cloneUser(user), nil
}

// ListUsers returns users ordered by ID (creation order).
func (r *MemoryUserRepo) ListUsers() ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*User, 0, len(r.byID))
	for _, u := range r.byID {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateUser overwrites mutable fields of an existing user.
func (r *MemoryUserRepo) UpdateUser(user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	stored.Role = user.Role
	stored.Cash = user.Cash
	stored.Rep = user.Rep
	stored.RankIndex = user.RankIndex
	stored.LastSeen = user.LastSeen
	return nil
}

// UpdateUserLastSeen touches the activity timestamp without rewriting
// the other mutable fields.
func (r *MemoryUserRepo) UpdateUserLastSeen(userID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	stored.LastSeen = time.Now()
	return nil
}

// cloneUser returns a shallow copy (User has no reference fields).
func cloneUser(u *User) *User {
	c := *u
	return &c
}

// Helper to normalise usernames.
func normalize(username string) string {
	return strings.ToLower(username)
}
