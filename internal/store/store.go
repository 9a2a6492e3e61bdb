// ABOUTME: Store interface and shared sentinel errors for passkey-portal persistence
// ABOUTME: Defines the contract implemented by SQLiteStore

package store

import (
	"context"
	"errors"
)

// ErrAccountNotFound is returned when an account doesn't exist.
var ErrAccountNotFound = errors.New("account not found")

// ErrOwnerNotFound is returned when a credential owner doesn't exist.
var ErrOwnerNotFound = errors.New("credential owner not found")

// ErrCredentialNotFound is returned when a credential doesn't exist or is
// owned by a different account. The two cases are intentionally not
// distinguishable at the store boundary.
var ErrCredentialNotFound = errors.New("credential not found")

// ErrUsernameExists is returned when trying to create an account with an
// existing username.
var ErrUsernameExists = errors.New("username already exists")

// ErrSessionNotFound is returned when a session doesn't exist or is expired.
var ErrSessionNotFound = errors.New("session not found")

// Store defines the full persistence interface.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, account *Account) error
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	AccountExists(ctx context.Context, username string) (bool, error)

	// Credential owners
	GetOwnerByUsername(ctx context.Context, username string) (*CredentialOwner, error)
	GetOwnerByID(ctx context.Context, id string) (*CredentialOwner, error)
	GetOrCreateOwner(ctx context.Context, username, displayName string) (*CredentialOwner, error)

	// Credentials
	CreateCredential(ctx context.Context, cred *Credential) error
	GetCredentialByID(ctx context.Context, credentialID []byte) (*Credential, error)
	ListCredentialsByOwner(ctx context.Context, ownerID string) ([]*Credential, error)
	DeleteCredentialForUser(ctx context.Context, credentialID []byte, username string) error
	UpdateCredentialSignCount(ctx context.Context, credentialID []byte, signCount uint32) error
	TouchCredentialLastUsed(ctx context.Context, credentialID []byte) error

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) error

	Close() error
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
