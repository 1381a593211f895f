package api

import (
	"encoding/json"
	"time"
)

// Machine-stable err strings.
const (
	errIdentityRequired   = "identity required"
	errInvalidJSON        = "invalid json"
	errMissingFields      = "missing fields"
	errNonceMismatch      = "nonce mismatch"
	errInvalidPublicKey   = "invalid public key"
	errInvalidSignature   = "invalid signature"
	errInvalidDestination = "invalid destination"
	errInvalidAmount      = "invalid amount"
	errFundingUnavailable = "funding unavailable"
	errLedgerUnavailable  = "ledger unavailable"
	errSubmissionFailed   = "submission failed"
	errConfirmTimeout     = "confirmation timeout"
	errRateLimited        = "rate limited"
	errMethodNotAllowed   = "method not allowed"
	errInternal           = "internal error"
)

type nonceResponse struct {
	OK        bool      `json:"ok"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// verifyRequest accepts steamId as a legacy alias of identity.
type verifyRequest struct {
	Identity  string `json:"identity"`
	SteamID   string `json:"steamId"`
	PublicKey string `json:"pubkey"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

func (r verifyRequest) identity() string {
	if r.Identity != "" {
		return r.Identity
	}
	return r.SteamID
}

type okResponse struct {
	OK bool `json:"ok"`
}

type lookupResponse struct {
	OK     bool    `json:"ok"`
	PubKey *string `json:"pubkey"`
}

// transferRequest accepts sol as a legacy alias of amount. Both take a JSON number or numeric string.
type transferRequest struct {
	To     string      `json:"to"`
	Amount json.Number `json:"amount"`
	Sol    json.Number `json:"sol"`
}

func (r transferRequest) amount() string {
	if r.Amount != "" {
		return r.Amount.String()
	}
	return r.Sol.String()
}

type transferResponse struct {
	OK        bool   `json:"ok"`
	Signature string `json:"signature"`
	Lamports  uint64 `json:"lamports"`
}

type transferAmbiguousResponse struct {
	OK        bool   `json:"ok"`
	Err       string `json:"err"`
	Signature string `json:"signature,omitempty"`
}
