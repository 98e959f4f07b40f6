package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avagner/sessionguard/internal/common"
)

// Claims extends the registered JWT claims with the fields sessionguard
// attaches to every access credential.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	Scope    string `json:"scope,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Sign issues an HS256-signed access token for the user and wraps it in a
// Token with matching metadata. A fallback token carries the fallback claim
// so downstream services can recognize degraded-mode credentials.
func Sign(userID, scope string, secretKey []byte, validity time.Duration, fallback bool, now time.Time) (*Token, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		UserID:   userID,
		Scope:    scope,
		Fallback: fallback,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secretKey)
	if err != nil {
		return nil, err
	}

	kind := KindBearer
	if fallback {
		kind = KindFallback
	}

	return &Token{
		AccessSecret: signed,
		IssuedAt:     now,
		ExpiresAt:    now.Add(validity),
		Kind:         kind,
		Scope:        scope,
		Fallback:     fallback,
	}, nil
}

// ParseClaims verifies the signature of an access secret and returns its
// claims. Expired or malformed tokens fail.
func ParseClaims(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, common.ErrValidation
	}

	return claims, nil
}

// ParseClaimsLenient verifies the signature but skips claim validation, so
// an already-expired token can still be introspected. Used when deriving a
// fallback credential from a credential whose rotation kept failing.
func ParseClaimsLenient(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}); err != nil {
		return nil, err
	}

	return claims, nil
}
