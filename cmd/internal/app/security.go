package app

import (
	"errors"

	"skinlink/cmd/internal/credit"
	"skinlink/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
// Fail-fast: a misconfigured secret must stop the process, never degrade silently.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.FundingSecret != "" {
		if _, err := credit.ParseFundingKey(cfg.FundingSecret); err != nil {
			return errors.New("security policy: funding wallet secret is malformed")
		}
	}

	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Key length is measured in bytes since the key is used raw.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: SKINLINK_REQUIRE_TOKEN_HMAC=true but SKINLINK_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: SKINLINK_REQUIRE_TOKEN_HMAC=true but SKINLINK_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	return nil
}
