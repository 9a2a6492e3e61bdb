// ABOUTME: CredentialOwner and Credential types with store methods
// ABOUTME: Includes the transactional ownership-verified credential delete

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// createdAtLayout is RFC3339 with fixed-width nanoseconds. Credentials are
// ordered by created_at as a string, so the fractional part must not vary in
// width (RFC3339Nano trims trailing zeros, which breaks lexicographic order).
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// CredentialOwner is the WebAuthn user entity binding an account to its
// passkeys. Its ID is the opaque user handle sent to authenticators and is
// stable for the account's lifetime.
type CredentialOwner struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
}

// Credential represents one registered authenticator.
type Credential struct {
	CredentialID    []byte
	OwnerID         string
	Label           string
	PublicKey       []byte
	AttestationType string
	SignCount       uint32
	Transports      string // JSON array
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// GetOwnerByUsername retrieves the credential owner for a username.
func (s *SQLiteStore) GetOwnerByUsername(ctx context.Context, username string) (*CredentialOwner, error) {
	query := `
		SELECT id, username, display_name, created_at
		FROM credential_owners
		WHERE username = ?
	`
	return s.scanOwner(s.db.QueryRowContext(ctx, query, username))
}

// GetOrCreateOwner returns the credential owner for a username, creating it
// on first use. The owner ID is generated once and never changes afterwards.
func (s *SQLiteStore) GetOrCreateOwner(ctx context.Context, username, displayName string) (*CredentialOwner, error) {
	owner, err := s.GetOwnerByUsername(ctx, username)
	if err == nil {
		return owner, nil
	}
	if !errors.Is(err, ErrOwnerNotFound) {
		return nil, err
	}

	owner = &CredentialOwner{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	query := `
		INSERT INTO credential_owners (id, username, display_name, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		owner.ID,
		owner.Username,
		owner.DisplayName,
		owner.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		// Lost a race with a concurrent first registration: re-read the winner.
		if isUniqueConstraintError(err) {
			return s.GetOwnerByUsername(ctx, username)
		}
		return nil, fmt.Errorf("inserting credential owner: %w", err)
	}

	s.logger.Info("created credential owner", "id", owner.ID, "username", username)
	return owner, nil
}

// GetOwnerByID retrieves a credential owner by its opaque ID.
func (s *SQLiteStore) GetOwnerByID(ctx context.Context, id string) (*CredentialOwner, error) {
	query := `
		SELECT id, username, display_name, created_at
		FROM credential_owners
		WHERE id = ?
	`
	return s.scanOwner(s.db.QueryRowContext(ctx, query, id))
}

// scanOwner scans a credential owner row.
func (s *SQLiteStore) scanOwner(row *sql.Row) (*CredentialOwner, error) {
	var owner CredentialOwner
	var createdAtStr string

	err := row.Scan(&owner.ID, &owner.Username, &owner.DisplayName, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential owner: %w", err)
	}

	owner.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &owner, nil
}

// CreateCredential stores a new credential.
func (s *SQLiteStore) CreateCredential(ctx context.Context, cred *Credential) error {
	query := `
		INSERT INTO credentials (credential_id, owner_id, label, public_key, attestation_type,
			sign_count, transports, backup_eligible, backup_state, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var lastUsed sql.NullString
	if cred.LastUsedAt != nil {
		lastUsed = sql.NullString{String: cred.LastUsedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		cred.CredentialID,
		cred.OwnerID,
		cred.Label,
		cred.PublicKey,
		cred.AttestationType,
		cred.SignCount,
		cred.Transports,
		cred.BackupEligible,
		cred.BackupState,
		cred.CreatedAt.UTC().Format(createdAtLayout),
		lastUsed,
	)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}

	s.logger.Info("created credential", "owner_id", cred.OwnerID, "label", cred.Label)
	return nil
}

// GetCredentialByID retrieves a credential by its credential ID.
func (s *SQLiteStore) GetCredentialByID(ctx context.Context, credentialID []byte) (*Credential, error) {
	query := `
		SELECT credential_id, owner_id, label, public_key, attestation_type,
			sign_count, transports, backup_eligible, backup_state, created_at, last_used_at
		FROM credentials
		WHERE credential_id = ?
	`

	cred, err := scanCredential(s.db.QueryRowContext(ctx, query, credentialID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return cred, nil
}

// ListCredentialsByOwner retrieves all credentials for an owner, newest first.
// Credentials sharing a created_at keep their insertion order.
func (s *SQLiteStore) ListCredentialsByOwner(ctx context.Context, ownerID string) ([]*Credential, error) {
	query := `
		SELECT credential_id, owner_id, label, public_key, attestation_type,
			sign_count, transports, backup_eligible, backup_state, created_at, last_used_at
		FROM credentials
		WHERE owner_id = ?
		ORDER BY created_at DESC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*Credential
	for rows.Next() {
		cred, err := scanCredentialRows(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}

	return creds, nil
}

// DeleteCredentialForUser deletes a credential after verifying that the
// username owns it. The whole check-then-delete chain runs in a single
// transaction so a concurrent delete of the same credential cannot leave
// partial state.
//
// A credential that exists but belongs to a different owner reports
// ErrCredentialNotFound, the same as a credential that doesn't exist at all.
func (s *SQLiteStore) DeleteCredentialForUser(ctx context.Context, credentialID []byte, username string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Account must exist
	var accountID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM accounts WHERE username = ?", username).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("querying account: %w", err)
	}

	// Owner must exist
	var ownerID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM credential_owners WHERE username = ?", username).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOwnerNotFound
	}
	if err != nil {
		return fmt.Errorf("querying credential owner: %w", err)
	}

	// Credential must exist and belong to the owner. A single guarded delete
	// keeps "missing" and "not yours" indistinguishable and avoids a separate
	// check-then-act window.
	result, err := tx.ExecContext(ctx,
		"DELETE FROM credentials WHERE credential_id = ? AND owner_id = ?",
		credentialID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Info("deleted credential", "username", username)
	return nil
}

// UpdateCredentialSignCount updates the signature counter for a credential.
func (s *SQLiteStore) UpdateCredentialSignCount(ctx context.Context, credentialID []byte, signCount uint32) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE credentials SET sign_count = ? WHERE credential_id = ?",
		signCount, credentialID,
	)
	if err != nil {
		return fmt.Errorf("updating sign count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// TouchCredentialLastUsed records that a credential was just used for login.
func (s *SQLiteStore) TouchCredentialLastUsed(ctx context.Context, credentialID []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"UPDATE credentials SET last_used_at = ? WHERE credential_id = ?",
		now, credentialID,
	)
	if err != nil {
		return fmt.Errorf("updating last_used_at: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// scanTarget abstracts sql.Row and sql.Rows for credential scanning.
type scanTarget interface {
	Scan(dest ...any) error
}

func scanCredential(row scanTarget) (*Credential, error) {
	var cred Credential
	var attestation, transports, lastUsedStr sql.NullString
	var createdAtStr string

	err := row.Scan(
		&cred.CredentialID,
		&cred.OwnerID,
		&cred.Label,
		&cred.PublicKey,
		&attestation,
		&cred.SignCount,
		&transports,
		&cred.BackupEligible,
		&cred.BackupState,
		&createdAtStr,
		&lastUsedStr,
	)
	if err != nil {
		return nil, err
	}

	cred.AttestationType = attestation.String
	cred.Transports = transports.String

	cred.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if lastUsedStr.Valid {
		lastUsed, err := time.Parse(time.RFC3339, lastUsedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		cred.LastUsedAt = &lastUsed
	}

	return &cred, nil
}

func scanCredentialRows(rows *sql.Rows) (*Credential, error) {
	cred, err := scanCredential(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}
	return cred, nil
}
