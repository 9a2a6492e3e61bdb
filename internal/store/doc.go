// Package store provides persistent storage for passkey-portal using SQLite.
//
// # Data Models
//
//   - Account: Locally registered identity (username, bcrypt password hash,
//     display name, enabled flag). An account may be passkey-only, in which
//     case its password hash is empty.
//   - CredentialOwner: WebAuthn user entity. Created lazily the first time an
//     account registers a passkey; its ID is the opaque user handle sent to
//     authenticators and never changes afterwards.
//   - Credential: One registered authenticator, keyed by its raw credential
//     ID bytes. Carries label, signature counter, transport hints, backup
//     flags, and created/last-used instants.
//   - Session: Cookie-backed browser session recording which login method
//     (password or passkey) produced it.
//
// Relationships: Account 1 -> 0..1 CredentialOwner -> 0..n Credential.
//
// # Ordering
//
// ListCredentialsByOwner returns credentials newest-first (created_at DESC).
// The credentials table has an AUTOINCREMENT seq column so credentials with
// equal created_at keep their insertion order.
//
// # Ownership-Verified Deletion
//
// DeleteCredentialForUser runs its whole precondition chain (account exists,
// owner exists, credential exists and belongs to the owner) plus the delete
// in a single transaction. A credential owned by someone else reports
// ErrCredentialNotFound, identical to a missing credential, so callers
// cannot probe for other users' credential IDs.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 UTC strings and surfaced as time.Time
// instants. All methods accept context.Context for cancellation support.
package store
