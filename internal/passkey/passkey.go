// ABOUTME: Credential store service: listing and ownership-verified deletion of passkeys
// ABOUTME: Sole authority for reading and removing credentials on behalf of a username

package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/passkey-portal/internal/store"
)

// Error codes for credential operations.
const (
	CodeUserNotFound       = "user_not_found"
	CodeOwnerNotFound      = "owner_not_found"
	CodeCredentialNotFound = "credential_not_found"
)

// Stable error messages. Consumers match on these in tests; the credential
// message deliberately covers both "missing" and "not yours".
const (
	msgUserNotFound       = "User not found"
	msgOwnerNotFound      = "User entity not found"
	msgCredentialNotFound = "Credential not found or does not belong to user"
)

// Error is the single error kind raised by credential operations. All cases
// are expected, caller-recoverable conditions.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Store is the subset of persistence the service needs.
type Store interface {
	GetOwnerByUsername(ctx context.Context, username string) (*store.CredentialOwner, error)
	ListCredentialsByOwner(ctx context.Context, ownerID string) ([]*store.Credential, error)
	DeleteCredentialForUser(ctx context.Context, credentialID []byte, username string) error
}

// Summary is the view-ready projection of one credential.
type Summary struct {
	CredentialID string // base64url, display-safe
	Label        string
	Created      time.Time
	LastUsed     *time.Time // nil means never used since registration
	SignCount    uint32
	Transports   []string
	BackupState  bool
}

// Service reads and deletes credentials on behalf of a username.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a credential service backed by the given store.
func NewService(s Store) *Service {
	return &Service{
		store:  s,
		logger: slog.Default().With("component", "passkey"),
	}
}

// ListCredentials returns the credentials registered for a username, newest
// first. A username with no credential owner is a normal state and yields an
// empty list, not an error.
func (s *Service) ListCredentials(ctx context.Context, username string) ([]Summary, error) {
	owner, err := s.store.GetOwnerByUsername(ctx, username)
	if errors.Is(err, store.ErrOwnerNotFound) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential owner: %w", err)
	}

	creds, err := s.store.ListCredentialsByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	summaries := make([]Summary, 0, len(creds))
	for _, c := range creds {
		summaries = append(summaries, Summary{
			CredentialID: base64.RawURLEncoding.EncodeToString(c.CredentialID),
			Label:        c.Label,
			Created:      c.CreatedAt,
			LastUsed:     c.LastUsedAt,
			SignCount:    c.SignCount,
			Transports:   decodeTransports(c.Transports),
			BackupState:  c.BackupState,
		})
	}
	return summaries, nil
}

// DeleteCredential removes the credential identified by the base64url
// credentialID, provided the username owns it. The store performs the whole
// precondition chain and the delete atomically.
//
// A credential owned by a different user fails exactly like a nonexistent
// credential so callers cannot enumerate other users' credential IDs.
func (s *Service) DeleteCredential(ctx context.Context, credentialID, username string) error {
	rawID, err := base64.RawURLEncoding.DecodeString(credentialID)
	if err != nil {
		// An undecodable ID cannot name any credential; report it the same
		// way as an unknown one.
		return &Error{Code: CodeCredentialNotFound, Message: msgCredentialNotFound}
	}

	err = s.store.DeleteCredentialForUser(ctx, rawID, username)
	switch {
	case err == nil:
		s.logger.Info("passkey deleted", "username", username)
		return nil
	case errors.Is(err, store.ErrAccountNotFound):
		return &Error{Code: CodeUserNotFound, Message: msgUserNotFound}
	case errors.Is(err, store.ErrOwnerNotFound):
		return &Error{Code: CodeOwnerNotFound, Message: msgOwnerNotFound}
	case errors.Is(err, store.ErrCredentialNotFound):
		return &Error{Code: CodeCredentialNotFound, Message: msgCredentialNotFound}
	default:
		return fmt.Errorf("deleting credential: %w", err)
	}
}

// decodeTransports parses the stored JSON transport list. Malformed or empty
// values degrade to no transport hints.
func decodeTransports(raw string) []string {
	if raw == "" {
		return nil
	}
	var transports []string
	if err := json.Unmarshal([]byte(raw), &transports); err != nil {
		return nil
	}
	return transports
}
