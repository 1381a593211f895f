package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultRPCURL is the public devnet endpoint.
const DefaultRPCURL = "https://api.devnet.solana.com"

// SignatureStatus is the ledger's view of one submitted transaction.
type SignatureStatus struct {
	// Found is false while the cluster has not seen the signature.
	Found bool
	Level rpc.ConfirmationStatusType
	// Err is the on-chain execution error, nil on success.
	Err any
}

// Ledger is the slice of the Solana RPC surface the issuer needs.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error)
}

// RPCLedger implements Ledger over JSON-RPC.
type RPCLedger struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewRPCLedger dials nothing; the first call opens the connection.
func NewRPCLedger(endpoint string, commitment rpc.CommitmentType) *RPCLedger {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultRPCURL
	}
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &RPCLedger{client: rpc.New(endpoint), commitment: commitment}
}

// LatestBlockhash implements Ledger.
func (l *RPCLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := l.client.GetLatestBlockhash(ctx, l.commitment)
	if err != nil {
		return solana.Hash{}, err
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("credit: empty blockhash response")
	}
	return out.Value.Blockhash, nil
}

// SendTransaction implements Ledger. Preflight simulation stays on.
func (l *RPCLedger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: l.commitment,
	})
}

// SignatureStatus implements Ledger.
func (l *RPCLedger) SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	out, err := l.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return SignatureStatus{}, err
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return SignatureStatus{}, nil
	}
	v := out.Value[0]
	return SignatureStatus{Found: true, Level: v.ConfirmationStatus, Err: v.Err}, nil
}

// Health reports whether the RPC node considers itself healthy.
func (l *RPCLedger) Health(ctx context.Context) error {
	status, err := l.client.GetHealth(ctx)
	if err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("credit: rpc health %q", status)
	}
	return nil
}

// ParseCommitment maps a config string to an RPC commitment level.
func ParseCommitment(s string) (rpc.CommitmentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "confirmed":
		return rpc.CommitmentConfirmed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	case "processed":
		return rpc.CommitmentProcessed, nil
	default:
		return "", fmt.Errorf("credit: unknown commitment %q", s)
	}
}

func statusRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

func commitmentRank(c rpc.CommitmentType) int {
	switch c {
	case rpc.CommitmentProcessed:
		return 1
	case rpc.CommitmentFinalized:
		return 3
	default:
		return 2
	}
}

// reached reports whether an observed status satisfies the wanted commitment.
func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	return statusRank(status) >= commitmentRank(want)
}
