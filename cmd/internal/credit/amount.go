package credit

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// decimalAmount is plain decimal notation with an optional exponent.
// big.Rat alone would also take fractions, hex floats, and digit separators.
var decimalAmount = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// ToLamports converts a decimal SOL amount ("1", "0.25", "1e-3") to lamports.
// Rounding is half away from zero; the result must be a positive uint64.
func ToLamports(amount string) (uint64, error) {
	const op = "credit.ToLamports"

	amount = strings.TrimSpace(amount)
	if !decimalAmount.MatchString(amount) {
		return 0, OpError{Op: op, Kind: ErrInvalidAmount}
	}
	r, ok := new(big.Rat).SetString(amount)
	if !ok || r.Sign() <= 0 {
		return 0, OpError{Op: op, Kind: ErrInvalidAmount}
	}

	r.Mul(r, new(big.Rat).SetUint64(solana.LAMPORTS_PER_SOL))

	// floor(x + 1/2) == floor((2*num + den) / (2*den)) for x > 0.
	num := new(big.Int).Lsh(r.Num(), 1)
	num.Add(num, r.Denom())
	den := new(big.Int).Lsh(r.Denom(), 1)
	q := new(big.Int).Quo(num, den)

	if q.Sign() <= 0 {
		return 0, OpError{Op: op, Kind: ErrInvalidAmount, Msg: "rounds to zero lamports"}
	}
	if !q.IsUint64() {
		return 0, OpError{Op: op, Kind: ErrInvalidAmount, Msg: "out of range"}
	}
	return q.Uint64(), nil
}

// ParseMaxLamports reads a per-transfer cap in SOL. A zero amount ("0", "0.0")
// returns 0, which disables the cap.
func ParseMaxLamports(amount string) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if decimalAmount.MatchString(amount) {
		if r, ok := new(big.Rat).SetString(amount); ok && r.Sign() == 0 {
			return 0, nil
		}
	}
	return ToLamports(amount)
}
