package credentials

import (
	"strings"
	"testing"
	"time"
)

func TestIsValidAgentName(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"TestBot", true},
		{"ab", true},
		{"agent_007", true},
		{strings.Repeat("a", 32), true},

		{"", false},
		{"a", false},
		{strings.Repeat("a", 33), false},
		{"test bot", false},
		{"bot-1", false},
		{"bot!", false},
		{"ботик", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsValidAgentName(tt.input); got != tt.valid {
				t.Errorf("IsValidAgentName(%q) = %v, want %v", tt.input, got, tt.valid)
			}
		})
	}
}

func TestHashAPIKeyDeterministic(t *testing.T) {
	seen := make(map[string]string)
	for i := 0; i < 200; i++ {
		key, err := GenerateAPIKey()
		if err != nil {
			t.Fatal(err)
		}
		h1, h2 := HashAPIKey(key), HashAPIKey(key)
		if h1 != h2 {
			t.Fatalf("hash not deterministic for %s", DisplayPrefix(key))
		}
		if other, ok := seen[h1]; ok && other != key {
			t.Fatal("hash collision between distinct keys")
		}
		seen[h1] = key
	}
}

func TestGeneratedCredentialsPassOwnValidators(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if !IsValidAPIKeyFormat(key) {
		t.Errorf("generated api key failed validation: %s", DisplayPrefix(key))
	}
	if len(strings.TrimPrefix(key, APIKeyPrefix)) != 64 {
		t.Errorf("api key suffix must carry 256 bits of hex")
	}

	token, err := GenerateClaimToken()
	if err != nil {
		t.Fatal(err)
	}
	if !IsValidClaimTokenFormat(token) {
		t.Errorf("generated claim token failed validation: %s", token)
	}

	code, err := GenerateVerificationCode()
	if err != nil {
		t.Fatal(err)
	}
	if !IsValidVerificationCode(code) {
		t.Errorf("generated verification code failed validation: %s", code)
	}
}

func TestFormatValidatorsRejectGarbage(t *testing.T) {
	inputs := []string{
		"",
		APIKeyPrefix,
		ClaimTokenPrefix,
		"Bearer " + APIKeyPrefix + strings.Repeat("a", 64),
		APIKeyPrefix + strings.Repeat("A", 64),
		APIKeyPrefix + strings.Repeat("a", 63),
		APIKeyPrefix + strings.Repeat("g", 64),
		ClaimTokenPrefix + strings.Repeat("a", 64),
	}

	for _, in := range inputs {
		if IsValidAPIKeyFormat(in) {
			t.Errorf("IsValidAPIKeyFormat(%q) = true", in)
		}
		if IsValidClaimTokenFormat(in) {
			t.Errorf("IsValidClaimTokenFormat(%q) = true", in)
		}
	}

	if IsValidClaimTokenFormat(APIKeyPrefix + strings.Repeat("a", 48)) {
		t.Error("api key prefix must not pass as a claim token")
	}
}

func TestDisplayPrefix(t *testing.T) {
	key := APIKeyPrefix + "0123456789abcdef" + strings.Repeat("0", 48)
	if got := DisplayPrefix(key); got != APIKeyPrefix+"01234567..." {
		t.Errorf("DisplayPrefix = %q", got)
	}
	if DisplayPrefix("nope") != "" {
		t.Error("expected empty prefix for foreign token")
	}
}

func TestIsClaimTokenExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if IsClaimTokenExpired(now.Add(time.Second), now) {
		t.Error("future expiry reported as expired")
	}
	if !IsClaimTokenExpired(now, now) {
		t.Error("expiry equal to now must be expired")
	}
	if !IsClaimTokenExpired(now.Add(-time.Hour), now) {
		t.Error("past expiry not reported as expired")
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("abc", "abc") {
		t.Error("equal strings must compare equal")
	}
	if SecureCompare("abc", "abd") || SecureCompare("abc", "ab") {
		t.Error("different strings must not compare equal")
	}
}
