// Package auth defines the contracts this application consumes from its
// authentication provider and the logout path that ties remote session
// cleanup to local sign-out.
package auth

import (
	"context"
	"errors"
)

// ErrNotSignedIn is returned when an identity is required but no account is
// authenticated.
var ErrNotSignedIn = errors.New("not signed in")

// Identity is the authenticated principal.
type Identity struct {
	AccountID   string
	Email       string
	DisplayName string
}

// IdentityState is one element of the account-state stream; SignedIn false
// is the absence-of-account state.
type IdentityState struct {
	Identity Identity
	SignedIn bool
}

// Authenticator is the auth-service collaborator: current identity, a
// cancellable stream of account-state changes, and sign-out.
type Authenticator interface {
	CurrentIdentity(ctx context.Context) (Identity, bool)
	Subscribe() (<-chan IdentityState, func())
	SignOut(ctx context.Context) error
}

// WaitForIdentity returns the current identity, blocking on the state stream
// for the first signed-in state when none is available yet. A signed-out
// first state fails with ErrNotSignedIn, matching the guard contract for
// unauthenticated visitors.
func WaitForIdentity(ctx context.Context, authenticator Authenticator) (Identity, error) {
	if identity, signedIn := authenticator.CurrentIdentity(ctx); signedIn {
		return identity, nil
	}
	states, cancel := authenticator.Subscribe()
	defer cancel()
	select {
	case <-ctx.Done():
		return Identity{}, ctx.Err()
	case state, open := <-states:
		if !open || !state.SignedIn {
			return Identity{}, ErrNotSignedIn
		}
		return state.Identity, nil
	}
}
