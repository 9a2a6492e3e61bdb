// ABOUTME: Dashboard aggregator composing principal resolution with credential listing
// ABOUTME: Produces the view-ready summary rendered after login

package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/passkey-portal/internal/passkey"
	"github.com/2389/passkey-portal/internal/principal"
	"github.com/2389/passkey-portal/internal/store"
)

// AccountLookup is the account read the aggregator needs.
type AccountLookup interface {
	GetAccountByUsername(ctx context.Context, username string) (*store.Account, error)
}

// CredentialLister lists credentials for a username.
type CredentialLister interface {
	ListCredentials(ctx context.Context, username string) ([]passkey.Summary, error)
}

// View is the aggregated dashboard state for one authenticated principal.
type View struct {
	Username        string
	AuthMethod      string
	Credentials     []passkey.Summary
	CredentialCount int
}

// Aggregator builds dashboard views.
type Aggregator struct {
	accounts    AccountLookup
	credentials CredentialLister
}

// New creates a dashboard aggregator.
func New(accounts AccountLookup, credentials CredentialLister) *Aggregator {
	return &Aggregator{
		accounts:    accounts,
		credentials: credentials,
	}
}

// Build resolves the principal and assembles its dashboard view. An unknown
// or unresolvable principal degrades to an empty credential list rather than
// failing the page.
func (a *Aggregator) Build(ctx context.Context, p principal.Principal) (*View, error) {
	username, method := principal.Resolve(p)

	view := &View{
		Username:    username,
		AuthMethod:  method.String(),
		Credentials: []passkey.Summary{},
	}

	_, err := a.accounts.GetAccountByUsername(ctx, username)
	if errors.Is(err, store.ErrAccountNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	creds, err := a.credentials.ListCredentials(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	view.Credentials = creds
	view.CredentialCount = len(creds)
	return view, nil
}
