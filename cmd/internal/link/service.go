package link

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// VerifyInput is a client-submitted proof of key ownership.
type VerifyInput struct {
	Identity  string
	PublicKey string
	Signature string
	Nonce     string
}

// Service runs the challenge/response flow over a NonceStore and a LinkStore.
// It does no I/O of its own beyond the stores.
type Service struct {
	nonces NonceStore
	links  LinkStore
	log    *slog.Logger
	now    func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger (default: slog.Default()).
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides time.Now. Intended for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a Service. Both stores are required.
func NewService(nonces NonceStore, links LinkStore, opts ...ServiceOption) (*Service, error) {
	if nonces == nil || links == nil {
		return nil, errors.New("link: nil store")
	}
	s := &Service{
		nonces: nonces,
		links:  links,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// IssueNonce creates the challenge the client must sign. A previous nonce for identity stops matching.
func (s *Service) IssueNonce(ctx context.Context, identity string) (Nonce, error) {
	if blank(identity) {
		return Nonce{}, OpError{Op: "link.IssueNonce", Kind: ErrMissingField, Msg: "identity"}
	}
	n, err := s.nonces.Issue(ctx, s.now(), identity)
	if err != nil {
		return Nonce{}, err
	}
	s.log.Debug("link.nonce.issued", "identity", identity, "expires_at", n.ExpiresAt)
	return n, nil
}

// Verify turns a proof into a Link.
//
// The nonce is consumed before any key or signature checks and is never restored,
// so every issued nonce buys exactly one attempt.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (Link, error) {
	const op = "link.Verify"

	identity := in.Identity
	if blank(identity) || blank(in.PublicKey) || blank(in.Signature) || in.Nonce == "" {
		return Link{}, OpError{Op: op, Kind: ErrMissingField}
	}

	now := s.now()
	ok, err := s.nonces.TakeIfMatches(ctx, now, identity, in.Nonce)
	if err != nil {
		return Link{}, err
	}
	if !ok {
		s.log.Info("link.verify.fail", "identity", identity, "reason", "nonce_mismatch")
		return Link{}, OpError{Op: op, Kind: ErrNonceMismatch}
	}

	pub, canonical, err := DecodePublicKey(in.PublicKey)
	if err != nil {
		s.log.Info("link.verify.fail", "identity", identity, "reason", "invalid_public_key")
		return Link{}, err
	}

	sigs := signatureCandidates(in.Signature)
	if len(sigs) == 0 {
		s.log.Info("link.verify.fail", "identity", identity, "reason", "undecodable_signature")
		return Link{}, OpError{Op: op, Kind: ErrInvalidSignature, Msg: "undecodable"}
	}

	msg := []byte(in.Nonce)
	verified := false
	for _, sig := range sigs {
		if ed25519.Verify(pub, msg, sig) {
			verified = true
			break
		}
	}
	if !verified {
		s.log.Info("link.verify.fail", "identity", identity, "reason", "bad_signature")
		return Link{}, OpError{Op: op, Kind: ErrInvalidSignature}
	}

	if err := s.links.Put(ctx, now, identity, canonical); err != nil {
		return Link{}, err
	}

	s.log.Info("link.verify.ok", "identity", identity, "pubkey", canonical)
	return Link{Identity: identity, PublicKey: canonical, LinkedAt: now}, nil
}

// Lookup returns the key currently linked to identity.
func (s *Service) Lookup(ctx context.Context, identity string) (Link, bool, error) {
	if blank(identity) {
		return Link{}, false, OpError{Op: "link.Lookup", Kind: ErrMissingField, Msg: "identity"}
	}
	return s.links.Get(ctx, identity)
}

// blank reports a missing field. Identities are compared byte for byte;
// whitespace only counts when nothing else is there.
func blank(s string) bool { return strings.TrimSpace(s) == "" }
