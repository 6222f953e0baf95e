// Package auth resolves the caller identity from the Authorization header.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/attachkeeper/internal/common"
	"github.com/dmitrijs2005/attachkeeper/internal/server/quota"
)

const (
	ModeBasic  = "basic"
	ModeBearer = "bearer"
	ModeNone   = "none"
)

// Verifier checks an identity and secret pair. quota.Gateway satisfies it.
type Verifier interface {
	Authenticate(ctx context.Context, identity, secret string) error
}

// Strategy turns an Authorization header into an identity.
type Strategy interface {
	Name() string
	Identify(ctx context.Context, header string) (string, error)
}

// ParseBasic splits a "Basic <base64(user:password)>" header.
func ParseBasic(header string) (user, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	user, password, ok = strings.Cut(string(raw), ":")
	if !ok || user == "" {
		return "", "", false
	}
	return user, password, true
}

// BasicStrategy verifies basic credentials against the account service.
type BasicStrategy struct {
	verifier Verifier
}

func NewBasicStrategy(v Verifier) *BasicStrategy {
	return &BasicStrategy{verifier: v}
}

func (s *BasicStrategy) Name() string { return ModeBasic }

func (s *BasicStrategy) Identify(ctx context.Context, header string) (string, error) {
	user, password, ok := ParseBasic(header)
	if !ok {
		return "", fmt.Errorf("%w: basic credentials required", common.ErrorUnauthorized)
	}
	if err := s.verifier.Authenticate(ctx, user, password); err != nil {
		// An unreachable account service says nothing about the credentials.
		if errors.Is(err, quota.ErrCommunication) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}
	return user, nil
}

// BearerStrategy accepts tokens issued by GenerateToken.
type BearerStrategy struct {
	secret []byte
}

func NewBearerStrategy(secret []byte) *BearerStrategy {
	return &BearerStrategy{secret: secret}
}

func (s *BearerStrategy) Name() string { return ModeBearer }

func (s *BearerStrategy) Identify(ctx context.Context, header string) (string, error) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", fmt.Errorf("%w: bearer token required", common.ErrorUnauthorized)
	}
	identity, err := IdentityFromToken(strings.TrimSpace(header[len(prefix):]), s.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}
	return identity, nil
}

// NoneStrategy trusts the user name of basic credentials without checking
// the password. For development only.
type NoneStrategy struct{}

func (NoneStrategy) Name() string { return ModeNone }

func (NoneStrategy) Identify(ctx context.Context, header string) (string, error) {
	user, _, ok := ParseBasic(header)
	if !ok {
		return "", fmt.Errorf("%w: user name required", common.ErrorUnauthorized)
	}
	return user, nil
}

// Switch holds the active strategy and can flip between the configured one
// and NoneStrategy at runtime.
type Switch struct {
	mu      sync.RWMutex
	primary Strategy
	active  Strategy
}

// NewSwitch starts with primary active. When primary is NoneStrategy,
// toggling switches to basic instead.
func NewSwitch(primary Strategy, basic *BasicStrategy) *Switch {
	sw := &Switch{primary: primary, active: primary}
	if primary.Name() == ModeNone {
		sw.primary = basic
	}
	return sw
}

// New builds the strategy for a configured mode.
func New(mode string, v Verifier, secret []byte) (Strategy, error) {
	switch mode {
	case ModeBasic:
		return NewBasicStrategy(v), nil
	case ModeBearer:
		return NewBearerStrategy(secret), nil
	case ModeNone:
		return NoneStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

func (s *Switch) Current() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Toggle flips between the primary strategy and NoneStrategy and returns
// the newly active one.
func (s *Switch) Toggle() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Name() == ModeNone {
		s.active = s.primary
	} else {
		s.active = NoneStrategy{}
	}
	return s.active
}

func (s *Switch) Identify(ctx context.Context, header string) (string, error) {
	return s.Current().Identify(ctx, header)
}
