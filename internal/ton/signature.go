package ton

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
)

var (
	ErrInvalidPublicKey = errors.New("invalid wallet public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ParsePublicKey decodes a wallet public key given as 64 hex characters or
// base64 (std or url alphabet, padded or not). The 32 bytes must encode a
// point on the ed25519 curve.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := decodeFixed(strings.TrimSpace(s), ed25519.PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: not on curve", ErrInvalidPublicKey)
	}
	return ed25519.PublicKey(raw), nil
}

// VerifyMessageSignature checks an ed25519 signature (hex or base64) over the
// exact message bytes.
func VerifyMessageSignature(pub ed25519.PublicKey, message, signature string) error {
	sig, err := decodeFixed(strings.TrimSpace(signature), ed25519.SignatureSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ed25519.Verify(pub, []byte(message), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// PublicKeyHex is the canonical form a wallet identity is stored under.
func PublicKeyHex(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

func decodeFixed(s string, size int) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty")
	}
	if len(s) == size*2 {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			if len(b) != size {
				return nil, fmt.Errorf("expected %d bytes, got %d", size, len(b))
			}
			return b, nil
		}
	}
	return nil, errors.New("neither hex nor base64")
}
