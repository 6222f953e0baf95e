// Package quota talks to the capacity and account service that owns
// per-owner byte budgets and credentials.
package quota

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCommunication marks any failure to get an answer from the service.
	ErrCommunication = errors.New("quota service communication failure")
	// ErrUnauthenticated is returned when credentials are rejected.
	ErrUnauthenticated = errors.New("authentication failed")
)

// InsufficientQuotaError is returned by Reserve when the owner's remaining
// budget is smaller than the request.
type InsufficientQuotaError struct {
	Remaining int64
	Requested int64
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %d bytes requested, only %d bytes left", e.Requested, e.Remaining)
}

// Gateway reserves and releases quota and verifies account credentials.
// Implementations never retry.
type Gateway interface {
	// Reserve books bytes against owner's budget and returns what is left.
	Reserve(ctx context.Context, owner string, bytes int64) (int64, error)
	// Release returns bytes to owner's budget and returns the new remainder.
	Release(ctx context.Context, owner string, bytes int64) (int64, error)
	Authenticate(ctx context.Context, identity, secret string) error
}
