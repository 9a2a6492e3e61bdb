// ABOUTME: Tests for credential owner and credential persistence
// ABOUTME: Covers listing order, tie-breaking, and the ownership-verified delete

package store

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func setupOwner(t *testing.T, store *SQLiteStore, username string) *CredentialOwner {
	t.Helper()
	ctx := context.Background()

	if err := store.CreateAccount(ctx, testAccount(username)); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	owner, err := store.GetOrCreateOwner(ctx, username, "Test User")
	if err != nil {
		t.Fatalf("GetOrCreateOwner failed: %v", err)
	}
	return owner
}

func testCredential(ownerID string, credentialID []byte, createdAt time.Time) *Credential {
	return &Credential{
		CredentialID:    credentialID,
		OwnerID:         ownerID,
		Label:           "Test Key",
		PublicKey:       []byte("public-key-bytes"),
		AttestationType: "none",
		SignCount:       0,
		Transports:      `["internal"]`,
		CreatedAt:       createdAt,
	}
}

func TestGetOrCreateOwner_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, testAccount("alice")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	first, err := store.GetOrCreateOwner(ctx, "alice", "Alice")
	if err != nil {
		t.Fatalf("GetOrCreateOwner failed: %v", err)
	}

	second, err := store.GetOrCreateOwner(ctx, "alice", "Different Name")
	if err != nil {
		t.Fatalf("GetOrCreateOwner (second call) failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("owner ID changed between calls: %q vs %q", first.ID, second.ID)
	}
	if second.DisplayName != "Alice" {
		t.Errorf("display name overwritten: got %q, want %q", second.DisplayName, "Alice")
	}
}

func TestGetOwnerByUsername_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetOwnerByUsername(context.Background(), "nobody")
	if !errors.Is(err, ErrOwnerNotFound) {
		t.Errorf("expected ErrOwnerNotFound, got %v", err)
	}
}

func TestCreateAndGetCredential(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := setupOwner(t, store, "alice")

	created := time.Now().UTC().Truncate(time.Second)
	cred := testCredential(owner.ID, []byte("cred-1"), created)
	cred.BackupEligible = true
	cred.BackupState = true

	if err := store.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	got, err := store.GetCredentialByID(ctx, []byte("cred-1"))
	if err != nil {
		t.Fatalf("GetCredentialByID failed: %v", err)
	}

	if !bytes.Equal(got.CredentialID, cred.CredentialID) {
		t.Errorf("CredentialID mismatch: got %q, want %q", got.CredentialID, cred.CredentialID)
	}
	if got.OwnerID != owner.ID {
		t.Errorf("OwnerID mismatch: got %q, want %q", got.OwnerID, owner.ID)
	}
	if got.Label != "Test Key" {
		t.Errorf("Label mismatch: got %q, want %q", got.Label, "Test Key")
	}
	if !got.BackupEligible || !got.BackupState {
		t.Error("backup flags not persisted")
	}
	if got.LastUsedAt != nil {
		t.Error("expected nil LastUsedAt for new credential")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, created)
	}
}

func TestGetCredentialByID_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCredentialByID(context.Background(), []byte("no-such-cred"))
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestListCredentialsByOwner_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := setupOwner(t, store, "alice")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Insert oldest first so creation order and timestamp order agree
	for i, id := range []string{"old", "middle", "new"} {
		cred := testCredential(owner.ID, []byte(id), base.Add(time.Duration(i)*time.Minute))
		if err := store.CreateCredential(ctx, cred); err != nil {
			t.Fatalf("CreateCredential(%s) failed: %v", id, err)
		}
	}

	creds, err := store.ListCredentialsByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ListCredentialsByOwner failed: %v", err)
	}

	if len(creds) != 3 {
		t.Fatalf("expected 3 credentials, got %d", len(creds))
	}

	want := []string{"new", "middle", "old"}
	for i, w := range want {
		if string(creds[i].CredentialID) != w {
			t.Errorf("position %d: got %q, want %q", i, creds[i].CredentialID, w)
		}
	}
}

func TestListCredentialsByOwner_SubSecondOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := setupOwner(t, store, "alice")

	// Creation instants well under a second apart, inserted oldest-first so
	// an ordering bug would surface as insertion order winning
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "newer", "newest"} {
		cred := testCredential(owner.ID, []byte(id), base.Add(time.Duration(i)*300*time.Millisecond))
		if err := store.CreateCredential(ctx, cred); err != nil {
			t.Fatalf("CreateCredential(%s) failed: %v", id, err)
		}
	}

	creds, err := store.ListCredentialsByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ListCredentialsByOwner failed: %v", err)
	}

	want := []string{"newest", "newer", "old"}
	if len(creds) != len(want) {
		t.Fatalf("expected %d credentials, got %d", len(want), len(creds))
	}
	for i, w := range want {
		if string(creds[i].CredentialID) != w {
			t.Errorf("position %d: got %q, want %q", i, creds[i].CredentialID, w)
		}
	}
}

func TestListCredentialsByOwner_TiedTimestampsKeepInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := setupOwner(t, store, "alice")

	same := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"first", "second", "third"} {
		if err := store.CreateCredential(ctx, testCredential(owner.ID, []byte(id), same)); err != nil {
			t.Fatalf("CreateCredential(%s) failed: %v", id, err)
		}
	}

	creds, err := store.ListCredentialsByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ListCredentialsByOwner failed: %v", err)
	}

	want := []string{"first", "second", "third"}
	if len(creds) != len(want) {
		t.Fatalf("expected %d credentials, got %d", len(want), len(creds))
	}
	for i, w := range want {
		if string(creds[i].CredentialID) != w {
			t.Errorf("position %d: got %q, want %q", i, creds[i].CredentialID, w)
		}
	}
}

func TestListCredentialsByOwner_Empty(t *testing.T) {
	store := newTestStore(t)
	owner := setupOwner(t, store, "alice")

	creds, err := store.ListCredentialsByOwner(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("ListCredentialsByOwner failed: %v", err)
	}
	if len(creds) != 0 {
		t.Errorf("expected no credentials, got %d", len(creds))
	}
}

func TestDeleteCredentialForUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := setupOwner(t, store, "alice")

	cred := testCredential(owner.ID, []byte("cred-1"), time.Now().UTC())
	if err := store.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	if err := store.DeleteCredentialForUser(ctx, []byte("cred-1"), "alice"); err != nil {
		t.Fatalf("DeleteCredentialForUser failed: %v", err)
	}

	_, err := store.GetCredentialByID(ctx, []byte("cred-1"))
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("credential still present after delete: %v", err)
	}
}

func TestDeleteCredentialForUser_AccountMissing(t *testing.T) {
	store := newTestStore(t)

	err := store.DeleteCredentialForUser(context.Background(), []byte("cred-1"), "ghost")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDeleteCredentialForUser_OwnerMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Account exists but has never registered a passkey
	if err := store.CreateAccount(ctx, testAccount("bob")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	err := store.DeleteCredentialForUser(ctx, []byte("cred-1"), "bob")
	if !errors.Is(err, ErrOwnerNotFound) {
		t.Errorf("expected ErrOwnerNotFound, got %v", err)
	}
}

func TestDeleteCredentialForUser_CredentialMissing(t *testing.T) {
	store := newTestStore(t)
	owner := setupOwner(t, store, "alice")
	_ = owner

	err := store.DeleteCredentialForUser(context.Background(), []byte("no-such-cred"), "alice")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestDeleteCredentialForUser_NotOwned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	aliceOwner := setupOwner(t, store, "alice")
	setupOwner(t, store, "mallory")

	cred := testCredential(aliceOwner.ID, []byte("alice-cred"), time.Now().UTC())
	if err := store.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	// Someone else's credential must be indistinguishable from a missing one
	err := store.DeleteCredentialForUser(ctx, []byte("alice-cred"), "mallory")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound, got %v", err)
	}

	// And the credential must survive the attempt
	if _, err := store.GetCredentialByID(ctx, []byte("alice-cred")); err != nil {
		t.Errorf("credential was deleted by non-owner: %v", err)
	}
}

func TestDeleteCredentialForUser_DoubleDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := setupOwner(t, store, "alice")

	cred := testCredential(owner.ID, []byte("cred-1"), time.Now().UTC())
	if err := store.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	if err := store.DeleteCredentialForUser(ctx, []byte("cred-1"), "alice"); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}

	err := store.DeleteCredentialForUser(ctx, []byte("cred-1"), "alice")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("second delete: expected ErrCredentialNotFound, got %v", err)
	}
}

func TestUpdateCredentialSignCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := setupOwner(t, store, "alice")

	cred := testCredential(owner.ID, []byte("cred-1"), time.Now().UTC())
	if err := store.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	if err := store.UpdateCredentialSignCount(ctx, []byte("cred-1"), 42); err != nil {
		t.Fatalf("UpdateCredentialSignCount failed: %v", err)
	}

	got, err := store.GetCredentialByID(ctx, []byte("cred-1"))
	if err != nil {
		t.Fatalf("GetCredentialByID failed: %v", err)
	}
	if got.SignCount != 42 {
		t.Errorf("SignCount mismatch: got %d, want 42", got.SignCount)
	}

	err = store.UpdateCredentialSignCount(ctx, []byte("no-such"), 1)
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound for unknown credential, got %v", err)
	}
}

func TestTouchCredentialLastUsed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := setupOwner(t, store, "alice")

	cred := testCredential(owner.ID, []byte("cred-1"), time.Now().UTC())
	if err := store.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	if err := store.TouchCredentialLastUsed(ctx, []byte("cred-1")); err != nil {
		t.Fatalf("TouchCredentialLastUsed failed: %v", err)
	}

	got, err := store.GetCredentialByID(ctx, []byte("cred-1"))
	if err != nil {
		t.Fatalf("GetCredentialByID failed: %v", err)
	}
	if got.LastUsedAt == nil {
		t.Fatal("expected LastUsedAt to be set")
	}
	if time.Since(*got.LastUsedAt) > time.Minute {
		t.Errorf("LastUsedAt not recent: %v", got.LastUsedAt)
	}
}
