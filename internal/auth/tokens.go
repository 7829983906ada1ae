package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

type Claims struct {
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role,omitempty"`
	TokenType TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies the two bearer token classes. Access and
// refresh tokens use distinct secrets, so a token of one class can never
// carry a valid signature for the other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("both token secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}

	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

func (t *TokenIssuer) IssueAccess(accountID, email string, role Role) (string, time.Time, error) {
	now := t.now().UTC()
	expiresAt := now.Add(t.accessTTL)

	claims := Claims{
		Email:     email,
		Role:      role,
		TokenType: TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}

	return signed, expiresAt, nil
}

func (t *TokenIssuer) IssueRefresh(accountID string) (string, time.Time, error) {
	now := t.now().UTC()
	expiresAt := now.Add(t.refreshTTL)

	claims := Claims{
		TokenType: TokenRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify checks signature (with the secret matching expected), then expiry,
// then the typ claim. Only a token that is valid in every respect except
// expiry yields ErrTokenExpired; every other failure, including a refresh
// token presented where an access token is expected, is ErrInvalidToken.
func (t *TokenIssuer) Verify(raw string, expected TokenType) (*Claims, error) {
	secret := t.accessSecret
	if expected == TokenRefresh {
		secret = t.refreshSecret
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && claims.TokenType == expected {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.TokenType != expected || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
