package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "skill-market"

// OwnerClaims identify a human (or wallet) owner. The token is issued when a
// claim completes and authorizes owner-only reads.
type OwnerClaims struct {
	OwnerID  uuid.UUID `json:"owner_id"`
	Provider string    `json:"provider"`
	jwt.RegisteredClaims
}

// GenerateOwnerJWT signs an owner session. Non-positive expiration means 24h.
func GenerateOwnerJWT(secret string, ownerID uuid.UUID, provider string, expiration time.Duration) (string, time.Time, error) {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	now := time.Now()
	expiresAt := now.Add(expiration)
	claims := OwnerClaims{
		OwnerID:  ownerID,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func ParseOwnerJWT(secret string, tokenStr string) (*OwnerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &OwnerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*OwnerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("token without owner")
	}
	return claims, nil
}
