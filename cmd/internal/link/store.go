// Package link implements the identity-to-key linking protocol: single-use nonces,
// detached ed25519 signature verification and the resulting identity → public key links.
package link

import (
	"context"
	"time"

	"skinlink/cmd/security/token"
)

// DefaultNonceTTL bounds how long an issued nonce stays matchable.
const DefaultNonceTTL = 5 * time.Minute

// Nonce is a live challenge issued to one identity.
type Nonce struct {
	Identity  string
	Value     string
	ExpiresAt time.Time
}

// Link is an established (identity, public key) association.
type Link struct {
	Identity  string
	PublicKey string
	LinkedAt  time.Time
}

// NonceStore holds at most one live nonce per identity.
//
// Implementations must make TakeIfMatches linearizable per identity:
// concurrent calls with the same live nonce yield exactly one true.
type NonceStore interface {
	// Issue creates a fresh nonce for identity, replacing any unconsumed one.
	Issue(ctx context.Context, now time.Time, identity string) (Nonce, error)

	// TakeIfMatches deletes the live nonce for identity and returns true when it equals candidate.
	// Otherwise it returns false and leaves state untouched. Expired nonces never match.
	TakeIfMatches(ctx context.Context, now time.Time, identity, candidate string) (bool, error)
}

// LinkStore maps identity → public key, last write wins.
type LinkStore interface {
	Put(ctx context.Context, now time.Time, identity, pubkey string) error
	Get(ctx context.Context, identity string) (Link, bool, error)
}

type nonceConfig struct {
	ttl      time.Duration
	newToken func() (string, error)
}

// NonceOption configures nonce issuance for both store implementations.
type NonceOption func(*nonceConfig)

// WithNonceTTL overrides DefaultNonceTTL. Non-positive values are ignored.
func WithNonceTTL(ttl time.Duration) NonceOption {
	return func(c *nonceConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTokenFunc overrides the nonce generator. Intended for tests.
func WithTokenFunc(fn func() (string, error)) NonceOption {
	return func(c *nonceConfig) {
		if fn != nil {
			c.newToken = fn
		}
	}
}

func newNonceConfig(opts []NonceOption) nonceConfig {
	c := nonceConfig{
		ttl: DefaultNonceTTL,
		newToken: func() (string, error) {
			return token.NewOpaque(token.DefaultBytes)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}
