package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"socwatch/internal/support"
)

const (
	SecretEnv       = "API_JWT_SECRET"
	DefaultTokenTTL = 24 * time.Hour
	issuer          = "socwatch"
)

var (
	ErrNoSecret     = errors.New("auth: " + SecretEnv + " is not set")
	ErrInvalidToken = errors.New("auth: invalid token")
)

func secret() []byte {
	return []byte(strings.TrimSpace(support.GetEnv(SecretEnv, "")))
}

// Enabled reports whether the read API is protected by bearer tokens.
func Enabled() bool {
	return len(secret()) > 0
}

// GenerateJWT issues an HS256 token for subject with the given role.
func GenerateJWT(subject, role string, ttl time.Duration) (string, error) {
	key := secret()
	if len(key) == 0 {
		return "", ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iss":  issuer,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	key := secret()
	if len(key) == 0 {
		return nil, ErrNoSecret
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
