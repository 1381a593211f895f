// Package credit issues one-shot SOL transfers from a service-held funding key.
package credit

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/mr-tron/base58"
)

// Config controls confirmation behavior and transfer limits.
type Config struct {
	Commitment     rpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration

	// MaxLamports caps a single transfer. Zero disables the cap.
	MaxLamports uint64
}

// DefaultConfig returns the confirmation budget used when fields are zero.
func DefaultConfig() Config {
	return Config{
		Commitment:     rpc.CommitmentConfirmed,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   500 * time.Millisecond,
		MaxLamports:    2 * solana.LAMPORTS_PER_SOL,
	}
}

// TransferRequest asks for Amount SOL (decimal string) to be sent to To (base58 address).
type TransferRequest struct {
	To     string
	Amount string
}

// Receipt describes a confirmed transfer.
type Receipt struct {
	Signature string
	To        string
	Lamports  uint64
}

// Issuer signs and submits transfers from the funding key.
// It holds no mutable state; concurrent Transfer calls are independent.
type Issuer struct {
	ledger Ledger
	funder solana.PrivateKey
	cfg    Config
	log    *slog.Logger
}

// NewIssuer builds an Issuer. A nil funder is allowed: Transfer then fails with ErrFundingUnavailable.
func NewIssuer(ledger Ledger, funder solana.PrivateKey, cfg Config, log *slog.Logger) (*Issuer, error) {
	if ledger == nil {
		return nil, errors.New("credit: nil ledger")
	}
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if len(funder) != 0 && len(funder) != ed25519.PrivateKeySize {
		return nil, OpError{Op: "credit.NewIssuer", Kind: ErrFundingUnavailable, Msg: "malformed funding key"}
	}
	return &Issuer{ledger: ledger, funder: funder, cfg: cfg, log: log}, nil
}

// Available reports whether a funding key is loaded.
func (i *Issuer) Available() bool { return i != nil && len(i.funder) == ed25519.PrivateKeySize }

// FundingAddress returns the funding public key, or "" when none is loaded.
func (i *Issuer) FundingAddress() string {
	if !i.Available() {
		return ""
	}
	return i.funder.PublicKey().String()
}

// Transfer sends the requested amount and blocks until the configured commitment is observed.
//
// Once a transaction has been sent, failures to observe confirmation are returned as
// ConfirmationError, never as ErrSubmissionFailed, and nothing is resubmitted. A send
// that fails without a JSON-RPC error reply counts as sent: its txid is polled like any other.
func (i *Issuer) Transfer(ctx context.Context, req TransferRequest) (Receipt, error) {
	const op = "credit.Transfer"

	if !i.Available() {
		return Receipt{}, OpError{Op: op, Kind: ErrFundingUnavailable}
	}
	to, err := parseAddress(req.To)
	if err != nil {
		return Receipt{}, err
	}
	lamports, err := ToLamports(req.Amount)
	if err != nil {
		return Receipt{}, err
	}
	if i.cfg.MaxLamports > 0 && lamports > i.cfg.MaxLamports {
		return Receipt{}, OpError{Op: op, Kind: ErrInvalidAmount, Msg: "above per-transfer cap"}
	}

	from := i.funder.PublicKey()
	blockhash, err := i.ledger.LatestBlockhash(ctx)
	if err != nil {
		i.log.Error("credit.blockhash.fail", "err", err)
		return Receipt{}, OpError{Op: op, Kind: ErrUpstream, Msg: err.Error()}
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, from, to).Build()},
		blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return Receipt{}, err
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(from) {
			return &i.funder
		}
		return nil
	}); err != nil {
		return Receipt{}, err
	}
	// The first signature is the transaction id, known before submission.
	txid := tx.Signatures[0]

	sig, err := i.ledger.SendTransaction(ctx, tx)
	if err != nil {
		// Only a JSON-RPC error reply proves the node refused the transaction.
		// A dropped connection may still have delivered it.
		var rpcErr *jsonrpc.RPCError
		switch {
		case errors.As(err, &rpcErr):
			i.log.Error("credit.transfer.rejected", "to", to.String(), "lamports", lamports, "code", rpcErr.Code, "err", rpcErr.Message)
			return Receipt{}, OpError{Op: op, Kind: ErrSubmissionFailed, Msg: rpcErr.Message}
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			i.log.Warn("credit.transfer.unconfirmed", "signature", txid.String(), "stage", "send", "err", err)
			return Receipt{}, ConfirmationError{Signature: txid.String(), Cause: err}
		}
		i.log.Warn("credit.transfer.send_uncertain", "signature", txid.String(), "err", err)
		sig = txid
	}

	i.log.Info("credit.transfer.submitted", "signature", sig.String(), "to", to.String(), "lamports", lamports)

	if err := i.awaitConfirmation(ctx, sig); err != nil {
		return Receipt{}, err
	}

	i.log.Info("credit.transfer.confirmed", "signature", sig.String(), "commitment", string(i.cfg.Commitment))
	return Receipt{Signature: sig.String(), To: to.String(), Lamports: lamports}, nil
}

func (i *Issuer) awaitConfirmation(parent context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(parent, i.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	for {
		st, err := i.ledger.SignatureStatus(ctx, sig)
		switch {
		case err != nil:
			i.log.Debug("credit.status.fail", "signature", sig.String(), "err", err)
		case st.Found && st.Err != nil:
			i.log.Error("credit.transfer.failed_onchain", "signature", sig.String(), "err", st.Err)
			return OpError{Op: "credit.Transfer", Kind: ErrSubmissionFailed, Msg: "transaction failed on-chain"}
		case st.Found && reached(st.Level, i.cfg.Commitment):
			return nil
		}

		select {
		case <-ctx.Done():
			i.log.Warn("credit.transfer.unconfirmed", "signature", sig.String(), "stage", "confirm", "err", ctx.Err())
			return ConfirmationError{Signature: sig.String(), Cause: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func parseAddress(s string) (solana.PublicKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil || len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, OpError{Op: "credit.parseAddress", Kind: ErrInvalidDestination}
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// ParseFundingKey decodes a funding secret: base58 of the 64-byte keypair, or the
// JSON byte array written by solana-keygen.
func ParseFundingKey(secret string) (solana.PrivateKey, error) {
	const op = "credit.ParseFundingKey"

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, OpError{Op: op, Kind: ErrFundingUnavailable, Msg: "empty secret"}
	}

	var raw []byte
	if strings.HasPrefix(secret, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(secret), &ints); err != nil {
			return nil, OpError{Op: op, Kind: ErrFundingUnavailable, Msg: "malformed keypair array"}
		}
		raw = make([]byte, 0, len(ints))
		for _, v := range ints {
			if v < 0 || v > 255 {
				return nil, OpError{Op: op, Kind: ErrFundingUnavailable, Msg: "malformed keypair array"}
			}
			raw = append(raw, byte(v))
		}
	} else {
		b, err := base58.Decode(secret)
		if err != nil {
			return nil, OpError{Op: op, Kind: ErrFundingUnavailable, Msg: "malformed base58 secret"}
		}
		raw = b
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, OpError{Op: op, Kind: ErrFundingUnavailable, Msg: "secret must be 64 bytes"}
	}
	// The trailing 32 bytes must be the public half of the seed.
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !ed25519.PublicKey(derived[ed25519.SeedSize:]).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
		return nil, OpError{Op: op, Kind: ErrFundingUnavailable, Msg: "public half does not match seed"}
	}
	return solana.PrivateKey(raw), nil
}
