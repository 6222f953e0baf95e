// Package handles allocates public attachment handles.
package handles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DefaultMaxAttempts bounds the number of draws per allocation.
const DefaultMaxAttempts = 16

// ErrHandleSpaceExhausted means every draw collided with an existing record.
var ErrHandleSpaceExhausted = errors.New("could not allocate a free handle")

// Lookup reports whether a handle is already taken.
type Lookup interface {
	ExistsByHandle(ctx context.Context, handle string) (bool, error)
}

// newHandle is a seam for tests.
var newHandle = func() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type Allocator struct {
	store       Lookup
	maxAttempts int
}

func NewAllocator(store Lookup, maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Allocator{store: store, maxAttempts: maxAttempts}
}

// Allocate draws random UUIDv4 handles until one is unused. Store errors end
// the loop immediately.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	for i := 0; i < a.maxAttempts; i++ {
		h, err := newHandle()
		if err != nil {
			return "", fmt.Errorf("generate handle: %w", err)
		}

		exists, err := a.store.ExistsByHandle(ctx, h)
		if err != nil {
			return "", fmt.Errorf("check handle: %w", err)
		}
		if !exists {
			return h, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrHandleSpaceExhausted, a.maxAttempts)
}
