// Package token provides opaque challenge tokens and their at-rest hashing for skinlink.
//
// It is the single source of truth for how link nonces are generated and hashed.
//
// Design goals:
// - Nonces come from crypto/rand only and are base64url encoded without padding.
// - Stored form is HMAC-SHA256(token, key) when a key is configured, SHA-256(token) otherwise.
// - Stable 64-char hex output for storage and constant-time comparison.
//
// Environment:
// - SKINLINK_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes).
package token
