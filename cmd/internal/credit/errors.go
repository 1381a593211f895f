package credit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDestination is returned when the destination is not a ledger address.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrInvalidAmount is returned when the amount does not round to a positive lamport count
	// or exceeds the configured per-transfer cap.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrFundingUnavailable is a configuration fault: no funding key is loaded.
	ErrFundingUnavailable = errors.New("funding unavailable")

	// ErrUpstream is returned when the ledger RPC fails before anything was submitted.
	// Safe to retry.
	ErrUpstream = errors.New("ledger unavailable")

	// ErrSubmissionFailed is returned when the ledger rejected or dropped the transaction.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrConfirmationTimeout is returned when a transaction was sent but finality was not observed.
	// The transfer may still land; never resubmit blindly.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// OpError is a typed operation error with a stable Op + Kind contract.
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

// ConfirmationError carries the signature of a transfer whose outcome is unknown.
type ConfirmationError struct {
	Signature string
	Cause     error
}

func (e ConfirmationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v: %s", ErrConfirmationTimeout, e.Signature)
	}
	return fmt.Sprintf("%v: %s: %v", ErrConfirmationTimeout, e.Signature, e.Cause)
}

func (e ConfirmationError) Unwrap() error { return ErrConfirmationTimeout }

// SignatureOf returns the transaction signature carried by err, if any.
func SignatureOf(err error) (string, bool) {
	var ce ConfirmationError
	if errors.As(err, &ce) && ce.Signature != "" {
		return ce.Signature, true
	}
	return "", false
}

// IsAmbiguous reports whether err leaves the transfer outcome unknown.
func IsAmbiguous(err error) bool { return errors.Is(err, ErrConfirmationTimeout) }
