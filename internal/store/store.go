// ABOUTME: Store interface and data types for relay persistence
// ABOUTME: Defines User, APIKey, PairingRecord and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateCode is returned when creating a pairing record whose code is
// already live
var ErrDuplicateCode = errors.New("pairing code already exists")

// User is an account that agents pair with and control clients act as
type User struct {
	UserID    string
	CreatedAt time.Time
}

// APIKey kinds. Agent keys are long-lived credentials handed out at account
// creation; session keys are minted when a pairing code is redeemed.
const (
	KeyKindAgent   = "agent"
	KeyKindSession = "session"
)

// APIKey is a stored credential. Only the SHA-256 hash of the key material
// is persisted.
type APIKey struct {
	KeyHash   string
	UserID    string
	Kind      string
	CreatedAt time.Time
}

// PairingRecord is a short-lived code issued on behalf of a user. Redeeming
// it consumes it and yields the owning user.
type PairingRecord struct {
	Code      string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store defines the persistence operations the relay needs
type Store interface {
	// CreateUser persists a new user
	CreateUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by id. Returns ErrNotFound if absent.
	GetUser(ctx context.Context, userID string) (*User, error)

	// CreateAPIKey stores the hash of a credential for a user
	CreateAPIKey(ctx context.Context, userID, credential, kind string) error

	// LookupUserByCredential resolves a raw credential to its user.
	// Returns ErrNotFound for unknown credentials.
	LookupUserByCredential(ctx context.Context, credential string) (*User, error)

	// CreatePairingRecord persists a short-lived pairing code for a user.
	// Returns ErrDuplicateCode if the code is already live.
	CreatePairingRecord(ctx context.Context, rec *PairingRecord) error

	// RedeemPairingRecord atomically consumes a pairing code and returns the
	// owning user id. Expired or unknown codes return ErrNotFound; a code can
	// be redeemed exactly once.
	RedeemPairingRecord(ctx context.Context, code string, now time.Time) (*PairingRecord, error)

	// DeleteExpiredPairingRecords sweeps records past their expiry
	DeleteExpiredPairingRecords(ctx context.Context, now time.Time) error

	// Close releases the underlying database
	Close() error
}
