package auth

import "errors"

// UserRepository defines operations for user persistence and retrieval.
// We provide an in-memory implementation for tests/CI and a MariaDB-backed
// one for real deployments; this interface allows swapping them without
// touching the rest of the code.
type UserRepository interface {
	// GetUserByUsername returns a user by username (case-insensitive). If the user
	// is not found, (nil, ErrUserNotFound) should be returned.
	GetUserByUsername(username string) (*User, error)

	// GetUserByID returns a user by ID. If the user is not found,
	// (nil, ErrUserNotFound) should be returned.
	GetUserByID(id uint64) (*User, error)

	// CreateUser creates a new user with the supplied data and returns the stored
	// user instance. Caller is expected to pass a bcrypt-hashed password.
	// Implementations must enforce unique usernames and return ErrUserExists on
	// conflict.
	CreateUser(username string, passwordHash string, role Role) (*User, error)

	// ListUsers returns every user ordered by ID (creation order).
	ListUsers() ([]*User, error)

	// UpdateUser persists mutable fields (role, cash, rep, rank_index,
	// last_seen) of an existing user. Returns ErrUserNotFound if the
	// user does not exist.
	UpdateUser(user *User) error

	// UpdateUserLastSeen sets last_seen to the current time without
	// touching the other mutable fields. Used on login so a session
	// refresh cannot clobber a concurrent staff edit.
	UpdateUserLastSeen(userID uint64) error
}

// Domain-level errors returned by the repository.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)
