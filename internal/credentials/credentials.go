// Package credentials issues and checks agent API keys, claim tokens and
// human verification codes.
package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

const (
	APIKeyPrefix     = "skm_live_"
	ClaimTokenPrefix = "skm_claim_"

	apiKeyBytes     = 32 // 256 bits
	claimTokenBytes = 24

	// displayChars is how much of the secret suffix APIKeyPrefix shows.
	displayChars = 8
)

var (
	verificationWords = []string{
		"reef", "claw", "tide", "kelp", "shell", "coral", "wave", "pearl",
		"drift", "crest", "shoal", "brine", "surf", "lagoon", "atoll", "current",
	}

	codeAlphabet = []byte("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

	agentNameRE        = regexp.MustCompile(`^[A-Za-z0-9_]{2,32}$`)
	verificationCodeRE = regexp.MustCompile(`^[a-z]+-[A-Z0-9]{4}$`)
)

// GenerateAPIKey returns a fresh secret. Only its hash may be stored.
func GenerateAPIKey() (string, error) {
	suffix, err := randomHex(apiKeyBytes)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + suffix, nil
}

func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// HashClaimToken is kept after a claim so a reused link can be told apart
// from one that never existed.
func HashClaimToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the non-secret form of a key that is safe to show.
func DisplayPrefix(apiKey string) string {
	if !strings.HasPrefix(apiKey, APIKeyPrefix) {
		return ""
	}
	suffix := strings.TrimPrefix(apiKey, APIKeyPrefix)
	if len(suffix) > displayChars {
		suffix = suffix[:displayChars]
	}
	return APIKeyPrefix + suffix + "..."
}

func GenerateClaimToken() (string, error) {
	suffix, err := randomHex(claimTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}
	return ClaimTokenPrefix + suffix, nil
}

// GenerateVerificationCode returns a code like "reef-X4B2". Codes are not
// guaranteed unique; callers check against the directory.
func GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(verificationWords))))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}

	suffix := make([]byte, 4)
	for i := range suffix {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		suffix[i] = codeAlphabet[idx.Int64()]
	}

	return verificationWords[n.Int64()] + "-" + string(suffix), nil
}

func IsValidAPIKeyFormat(apiKey string) bool {
	return hasHexSuffix(apiKey, APIKeyPrefix, apiKeyBytes*2)
}

func IsValidClaimTokenFormat(token string) bool {
	return hasHexSuffix(token, ClaimTokenPrefix, claimTokenBytes*2)
}

func IsValidVerificationCode(code string) bool {
	return verificationCodeRE.MatchString(code)
}

func IsValidAgentName(name string) bool {
	return agentNameRE.MatchString(name)
}

func IsClaimTokenExpired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// SecureCompare compares two secrets in constant time.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func hasHexSuffix(s, prefix string, length int) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	suffix := s[len(prefix):]
	if len(suffix) != length {
		return false
	}
	for i := 0; i < len(suffix); i++ {
		c := suffix[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
