package link

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"

	"github.com/mr-tron/base58"
)

// DecodePublicKey parses a base58 ed25519 public key and returns it with its canonical encoding.
func DecodePublicKey(s string) (ed25519.PublicKey, string, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, "", OpError{Op: "link.DecodePublicKey", Kind: ErrInvalidPublicKey}
	}
	return ed25519.PublicKey(raw), base58.Encode(raw), nil
}

var sigBase64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// signatureCandidates decodes a detached signature.
//
// Precedence: base64 is canonical (standard or URL alphabet, padding optional) and
// comes first; base58 is a legacy fallback. Only 64-byte results are candidates.
// Both readings are returned when both are structurally valid, because a base58
// string is also base64-alphabet text and can decode to 64 bytes by accident.
func signatureCandidates(s string) [][]byte {
	s = strings.TrimSpace(s)
	var out [][]byte
	for _, enc := range sigBase64Encodings {
		raw, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if len(raw) == ed25519.SignatureSize {
			out = append(out, raw)
		}
		break
	}
	if raw, err := base58.Decode(s); err == nil && len(raw) == ed25519.SignatureSize {
		out = append(out, raw)
	}
	return out
}
