package auth

import (
	"context"
	"sync"
)

const stateBuffer = 4

// MemoryAuthenticator is an in-process Authenticator. Embedding surfaces set
// the signed-in account after verifying credentials; subscribers (session
// arbitrator, idle guard, auth guard) observe every transition including
// sign-out.
type MemoryAuthenticator struct {
	mu          sync.Mutex
	identity    Identity
	signedIn    bool
	subscribers map[uint64]chan IdentityState
	nextID      uint64
}

// NewMemoryAuthenticator wires a MemoryAuthenticator in the signed-out state.
func NewMemoryAuthenticator() *MemoryAuthenticator {
	return &MemoryAuthenticator{subscribers: make(map[uint64]chan IdentityState)}
}

// SignIn records the authenticated identity and notifies subscribers.
func (authenticator *MemoryAuthenticator) SignIn(identity Identity) {
	authenticator.mu.Lock()
	authenticator.identity = identity
	authenticator.signedIn = true
	authenticator.broadcastLocked(IdentityState{Identity: identity, SignedIn: true})
	authenticator.mu.Unlock()
}

// CurrentIdentity returns the signed-in identity, if any.
func (authenticator *MemoryAuthenticator) CurrentIdentity(_ context.Context) (Identity, bool) {
	authenticator.mu.Lock()
	defer authenticator.mu.Unlock()
	return authenticator.identity, authenticator.signedIn
}

// Subscribe opens a state stream; the cancel function closes it.
func (authenticator *MemoryAuthenticator) Subscribe() (<-chan IdentityState, func()) {
	authenticator.mu.Lock()
	defer authenticator.mu.Unlock()
	authenticator.nextID++
	id := authenticator.nextID
	channel := make(chan IdentityState, stateBuffer)
	authenticator.subscribers[id] = channel
	cancel := func() {
		authenticator.mu.Lock()
		defer authenticator.mu.Unlock()
		if subscriber, ok := authenticator.subscribers[id]; ok {
			delete(authenticator.subscribers, id)
			close(subscriber)
		}
	}
	return channel, cancel
}

// SignOut clears the identity and notifies subscribers with the
// absence-of-account state.
func (authenticator *MemoryAuthenticator) SignOut(_ context.Context) error {
	authenticator.mu.Lock()
	authenticator.identity = Identity{}
	authenticator.signedIn = false
	authenticator.broadcastLocked(IdentityState{SignedIn: false})
	authenticator.mu.Unlock()
	return nil
}

func (authenticator *MemoryAuthenticator) broadcastLocked(state IdentityState) {
	for _, subscriber := range authenticator.subscribers {
		select {
		case subscriber <- state:
		default:
		}
	}
}
