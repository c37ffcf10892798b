package travel

import (
	"context"
	"errors"

	"github.com/warp/travel-engine/generic"
)

var (
	// ErrEmailTaken is returned when a user with the same email exists.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password. The two cases are indistinguishable.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// UserStore persists accounts. Lookups of absent users return an error
// wrapping generic.ErrNotFound.
type UserStore interface {
	// CreateUser inserts u with LeavesLeft as given (normally 0; the
	// balance is then granted through the ledger). ErrEmailTaken on a
	// duplicate email.
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CountUsersByRole(ctx context.Context, role Role) (int, error)
}

// RequestStore persists travel requests. There is no delete.
type RequestStore interface {
	CreateRequest(ctx context.Context, r TravelRequest) error
	GetRequest(ctx context.Context, id string) (*TravelRequest, error)

	// ListRequestsByEmployee returns the employee's requests, newest first.
	ListRequestsByEmployee(ctx context.Context, employeeID string) ([]TravelRequest, error)

	// ListRequests returns all requests, newest first, optionally only one status.
	ListRequests(ctx context.Context, status *Status) ([]TravelRequest, error)

	// DecideRequest writes the decision fields of r if and only if the
	// stored request is still PENDING. Otherwise it returns a
	// *generic.TransitionError and writes nothing.
	DecideRequest(ctx context.Context, r TravelRequest) error
}

// Store is everything the engine persists.
type Store interface {
	generic.Store
	generic.AuditLog
	UserStore
	RequestStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn
	// is rolled back. If fn returns nil, they are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
