package link

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField is returned when a required verify input is empty.
	ErrMissingField = errors.New("missing fields")

	// ErrNonceMismatch covers "no nonce issued", "wrong nonce", "stale nonce" and "expired nonce".
	// They are deliberately indistinguishable so callers cannot tell whether a challenge is outstanding.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrInvalidPublicKey is returned when the claimed key is not a base58 32-byte ed25519 key.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSignature is returned when the signature cannot be decoded or does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidInput is returned for store misuse (empty identity, nil store).
	ErrInvalidInput = errors.New("invalid input")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind is one of the sentinel errors above; Msg must never carry key material.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// IsValidation reports whether err is a client-side input fault.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) || errors.Is(err, ErrInvalidPublicKey)
}

// IsAuthentication reports whether err means the proof itself was rejected.
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrNonceMismatch) || errors.Is(err, ErrInvalidSignature)
}
