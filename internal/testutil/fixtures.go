package testutil

import (
	"time"

	"spinbank/internal/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	DemoAccountID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	HighRollerID    = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	AdminAccountID  = uuid.MustParse("00000000-0000-0000-0000-000000000099")
)

func GenerateJWT(accountID uuid.UUID, roles []string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "spinbank-auth",
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
