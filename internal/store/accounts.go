// ABOUTME: Account type and store methods for locally registered identities
// ABOUTME: Supports username/password auth and account lookup for passkey ownership checks

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Account represents a locally registered identity.
type Account struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash, empty if passkey-only
	DisplayName  string
	Enabled      bool
	CreatedAt    time.Time
}

// CreateAccount creates a new account.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, username, password_hash, display_name, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Username,
		account.PasswordHash,
		account.DisplayName,
		account.Enabled,
		account.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		// Check for unique constraint violation
		if isUniqueConstraintError(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Info("created account", "id", account.ID, "username", account.Username)
	return nil
}

// GetAccountByUsername retrieves an account by username (case-sensitive).
func (s *SQLiteStore) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	query := `
		SELECT id, username, password_hash, display_name, enabled, created_at
		FROM accounts
		WHERE username = ?
	`

	var account Account
	var passwordHash sql.NullString
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&account.ID,
		&account.Username,
		&passwordHash,
		&account.DisplayName,
		&account.Enabled,
		&createdAtStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account by username: %w", err)
	}

	account.PasswordHash = passwordHash.String
	account.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &account, nil
}

// AccountExists reports whether an account with the given username exists.
func (s *SQLiteStore) AccountExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking account existence: %w", err)
	}
	return count > 0, nil
}
