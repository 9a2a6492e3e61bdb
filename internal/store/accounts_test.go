// ABOUTME: Tests for account persistence
// ABOUTME: Covers creation, duplicate usernames, lookup, and existence checks

package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testAccount(username string) *Account {
	return &Account{
		ID:           "acct-" + username,
		Username:     username,
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
		DisplayName:  "Test User",
		Enabled:      true,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := testAccount("alice")
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	got, err := store.GetAccountByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccountByUsername failed: %v", err)
	}

	if got.ID != account.ID {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, account.ID)
	}
	if got.Username != account.Username {
		t.Errorf("Username mismatch: got %q, want %q", got.Username, account.Username)
	}
	if got.PasswordHash != account.PasswordHash {
		t.Errorf("PasswordHash mismatch: got %q, want %q", got.PasswordHash, account.PasswordHash)
	}
	if got.DisplayName != account.DisplayName {
		t.Errorf("DisplayName mismatch: got %q, want %q", got.DisplayName, account.DisplayName)
	}
	if !got.Enabled {
		t.Error("expected account to be enabled")
	}
	if !got.CreatedAt.Equal(account.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, account.CreatedAt)
	}
}

func TestCreateAccount_DuplicateUsername(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, testAccount("bob")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	dup := testAccount("bob")
	dup.ID = "acct-bob-2"
	err := store.CreateAccount(ctx, dup)
	if !errors.Is(err, ErrUsernameExists) {
		t.Errorf("expected ErrUsernameExists, got %v", err)
	}
}

func TestGetAccountByUsername_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetAccountByUsername(ctx, "nobody")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.AccountExists(ctx, "carol")
	if err != nil {
		t.Fatalf("AccountExists failed: %v", err)
	}
	if exists {
		t.Error("expected account to not exist")
	}

	if err := store.CreateAccount(ctx, testAccount("carol")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	exists, err = store.AccountExists(ctx, "carol")
	if err != nil {
		t.Fatalf("AccountExists failed: %v", err)
	}
	if !exists {
		t.Error("expected account to exist")
	}
}

func TestGetAccountByUsername_PasskeyOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := testAccount("dave")
	account.PasswordHash = ""
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	got, err := store.GetAccountByUsername(ctx, "dave")
	if err != nil {
		t.Fatalf("GetAccountByUsername failed: %v", err)
	}
	if got.PasswordHash != "" {
		t.Errorf("expected empty password hash, got %q", got.PasswordHash)
	}
}
