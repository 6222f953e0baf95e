package quota

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/attachkeeper/internal/cryptox"
)

type account struct {
	verifier cryptox.Verifier
	limit    int64
	used     int64
}

// MemoryGateway is a process-local Gateway over a fixed set of accounts.
// Secrets are kept as argon2id verifiers.
type MemoryGateway struct {
	mu       sync.Mutex
	accounts map[string]*account
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{accounts: make(map[string]*account)}
}

// AddAccount registers identity with a byte budget, replacing any previous
// registration.
func (g *MemoryGateway) AddAccount(identity, secret string, limit int64) {
	v := cryptox.NewVerifier(secret)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[identity] = &account{verifier: v, limit: limit}
}

func (g *MemoryGateway) Reserve(ctx context.Context, owner string, bytes int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.accounts[owner]
	if !ok {
		return 0, fmt.Errorf("%w: unknown account %s", ErrCommunication, owner)
	}

	remaining := a.limit - a.used
	if bytes > remaining {
		return remaining, &InsufficientQuotaError{Remaining: remaining, Requested: bytes}
	}

	a.used += bytes
	return a.limit - a.used, nil
}

func (g *MemoryGateway) Release(ctx context.Context, owner string, bytes int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.accounts[owner]
	if !ok {
		return 0, fmt.Errorf("%w: unknown account %s", ErrCommunication, owner)
	}

	a.used -= bytes
	if a.used < 0 {
		a.used = 0
	}
	return a.limit - a.used, nil
}

func (g *MemoryGateway) Authenticate(ctx context.Context, identity, secret string) error {
	g.mu.Lock()
	a, ok := g.accounts[identity]
	g.mu.Unlock()

	if !ok || !a.verifier.Matches(secret) {
		return fmt.Errorf("%w for %s", ErrUnauthenticated, identity)
	}
	return nil
}

// Remaining reports the unreserved budget of identity.
func (g *MemoryGateway) Remaining(identity string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.accounts[identity]
	if !ok {
		return 0, false
	}
	return a.limit - a.used, true
}
