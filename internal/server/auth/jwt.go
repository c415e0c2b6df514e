// Package auth issues and verifies the HS256 bearer tokens that guard the
// administrative endpoints. There are no user accounts; a token only
// proves possession of the server's admin secret.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cipherdrop/cipherdrop/internal/common"
)

const adminSubject = "cipherdrop-admin"

// Claims carries the standard registered claims plus the operator name
// the token was issued to, for audit logging.
type Claims struct {
	jwt.RegisteredClaims
	Operator string
}

func GenerateAdminToken(operator string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminSubject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Operator: operator,
	})

	return token.SignedString(secretKey)
}

// VerifyAdminToken returns the operator name encoded in a valid admin
// token, common.ErrInvalidToken otherwise.
func VerifyAdminToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidToken
		}
		return secretKey, nil
	})
	if err != nil {
		return "", errors.Join(common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.Subject != adminSubject {
		return "", common.ErrInvalidToken
	}

	return claims.Operator, nil
}
