package link

import (
	"context"
	"sync"
	"time"

	"skinlink/cmd/security/token"
)

// sweepEvery controls how often Issue evicts expired nonces.
const sweepEvery = 256

// MemoryNonceStore is the single-instance NonceStore.
// A second service instance cannot see its nonces; use PostgresNonceStore for that.
type MemoryNonceStore struct {
	cfg nonceConfig

	mu     sync.Mutex
	byID   map[string]Nonce
	issued uint64
}

// NewMemoryNonceStore constructs an empty in-memory nonce store.
func NewMemoryNonceStore(opts ...NonceOption) *MemoryNonceStore {
	return &MemoryNonceStore{
		cfg:  newNonceConfig(opts),
		byID: make(map[string]Nonce),
	}
}

// Issue implements NonceStore.
func (s *MemoryNonceStore) Issue(ctx context.Context, now time.Time, identity string) (Nonce, error) {
	if blank(identity) {
		return Nonce{}, OpError{Op: "link.MemoryNonceStore.Issue", Kind: ErrInvalidInput, Msg: "empty identity"}
	}
	if err := ctx.Err(); err != nil {
		return Nonce{}, err
	}

	value, err := s.cfg.newToken()
	if err != nil {
		return Nonce{}, err
	}
	n := Nonce{Identity: identity, Value: value, ExpiresAt: now.Add(s.cfg.ttl)}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[identity] = n
	s.issued++
	if s.issued%sweepEvery == 0 {
		for id, v := range s.byID {
			if !now.Before(v.ExpiresAt) {
				delete(s.byID, id)
			}
		}
	}
	return n, nil
}

// TakeIfMatches implements NonceStore.
func (s *MemoryNonceStore) TakeIfMatches(ctx context.Context, now time.Time, identity, candidate string) (bool, error) {
	if identity == "" || candidate == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[identity]
	if !ok {
		return false, nil
	}
	if !now.Before(n.ExpiresAt) {
		delete(s.byID, identity)
		return false, nil
	}
	if !token.Equal(n.Value, candidate) {
		return false, nil
	}
	delete(s.byID, identity)
	return true, nil
}

// Len returns the number of held nonces, expired ones included.
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// MemoryLinkStore is the single-instance LinkStore.
type MemoryLinkStore struct {
	mu   sync.RWMutex
	byID map[string]Link
}

// NewMemoryLinkStore constructs an empty in-memory link store.
func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{byID: make(map[string]Link)}
}

// Put implements LinkStore.
func (s *MemoryLinkStore) Put(ctx context.Context, now time.Time, identity, pubkey string) error {
	if blank(identity) || pubkey == "" {
		return OpError{Op: "link.MemoryLinkStore.Put", Kind: ErrInvalidInput}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.byID[identity] = Link{Identity: identity, PublicKey: pubkey, LinkedAt: now}
	s.mu.Unlock()
	return nil
}

// Get implements LinkStore.
func (s *MemoryLinkStore) Get(ctx context.Context, identity string) (Link, bool, error) {
	if err := ctx.Err(); err != nil {
		return Link{}, false, err
	}

	s.mu.RLock()
	l, ok := s.byID[identity]
	s.mu.RUnlock()
	return l, ok, nil
}
