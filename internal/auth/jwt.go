// Package auth deals in the HS256 bearer tokens that identify a kettle user.
//
// Accounts live outside kettle. A token is trusted when it is signed with the
// shared secret and carries a positive user_id and a username; the first
// request that presents one creates the user if needed. The subject mirrors
// the user id for tools that only look at registered claims. Tokens signed
// with any other algorithm are refused before the signature is checked.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmynk/kettle/internal/models"
)

// clockSkew is tolerated on exp and nbf between the minting host and us.
const clockSkew = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
	// ErrExpiredToken is always reported together with ErrInvalidToken.
	ErrExpiredToken = errors.New("token expired")
)

// JWTManager signs and checks tokens with one shared secret.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

// Claims identify the user a token was minted for.
type Claims struct {
	UserID   models.UserID `json:"user_id"`
	Username string        `json:"username"`
	jwt.RegisteredClaims
}

// User returns the account the claims describe.
func (c *Claims) User() *models.User {
	return &models.User{ID: c.UserID, Username: c.Username}
}

// NewJWTManager returns a manager for secret. Minted tokens expire after ttl;
// a negative ttl mints tokens that are already expired.
func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		ttl:    ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(clockSkew),
			jwt.WithIssuedAt(),
		),
	}
}

// Generate mints a token for user.
func (m *JWTManager) Generate(user *models.User) (string, error) {
	if user.ID <= 0 || user.Username == "" {
		return "", errors.New("token needs a user id and username")
	}
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(int64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate returns the claims of a well-formed, current token. Every failure
// wraps ErrInvalidToken; expiry additionally wraps ErrExpiredToken.
func (m *JWTManager) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	if _, err := m.parser.ParseWithClaims(token, claims, m.key); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrExpiredToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 || claims.Username == "" {
		return nil, fmt.Errorf("%w: token has no user", ErrInvalidToken)
	}
	return claims, nil
}

func (m *JWTManager) key(*jwt.Token) (any, error) {
	return m.secret, nil
}
