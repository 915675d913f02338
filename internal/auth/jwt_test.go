package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestOwnerJWTRoundTrip(t *testing.T) {
	ownerID := uuid.New()

	token, expiresAt, err := GenerateOwnerJWT("secret", ownerID, "wallet", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expiresAt) <= 59*time.Minute {
		t.Errorf("unexpected expiry %v", expiresAt)
	}

	claims, err := ParseOwnerJWT("secret", token)
	if err != nil {
		t.Fatalf("ParseOwnerJWT: %v", err)
	}
	if claims.OwnerID != ownerID || claims.Provider != "wallet" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestParseOwnerJWTRejects(t *testing.T) {
	ownerID := uuid.New()
	valid, _, _ := GenerateOwnerJWT("secret", ownerID, "x", time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", valid},
		{"garbage", "not.a.token"},
		{"expired", mustSign(t, OwnerClaims{
			OwnerID: ownerID,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})},
		{"foreign issuer", mustSign(t, OwnerClaims{
			OwnerID:          ownerID,
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
		})},
		{"no owner", mustSign(t, OwnerClaims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret := "secret"
			if tt.name == "wrong secret" {
				secret = "other"
			}
			if _, err := ParseOwnerJWT(secret, tt.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func mustSign(t *testing.T, claims OwnerClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}
