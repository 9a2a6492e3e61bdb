// ABOUTME: Registration gateway for creating local accounts
// ABOUTME: Rejects duplicate usernames and never persists a raw password

package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/passkey-portal/internal/store"
)

// ErrUsernameTaken is returned when registering a username that already
// exists. The message is a stable contract surfaced on the registration form.
var ErrUsernameTaken = errors.New("Username already exists")

// Store is the subset of persistence the registration gateway needs.
type Store interface {
	AccountExists(ctx context.Context, username string) (bool, error)
	CreateAccount(ctx context.Context, account *store.Account) error
}

// Service registers new local accounts.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a registration service backed by the given store.
func NewService(s Store) *Service {
	return &Service{
		store:  s,
		logger: slog.Default().With("component", "account"),
	}
}

// Register creates a new enabled account with a bcrypt-hashed password.
// Username matching is case-sensitive exact. The raw password is never
// stored; only its one-way hash is.
func (s *Service) Register(ctx context.Context, username, displayName, rawPassword string) error {
	exists, err := s.store.AccountExists(ctx, username)
	if err != nil {
		return fmt.Errorf("checking username: %w", err)
	}
	if exists {
		return ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if displayName == "" {
		displayName = username
	}

	acct := &store.Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateAccount(ctx, acct); err != nil {
		// Lost a race with a concurrent registration for the same username.
		if errors.Is(err, store.ErrUsernameExists) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("creating account: %w", err)
	}

	s.logger.Info("account registered", "username", username)
	return nil
}
