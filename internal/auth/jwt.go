package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	purposeAccess = "access"
	purposeReset  = "password_reset"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified caller injected into request handling
type Identity struct {
	UserID int64  `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type Claims struct {
	Identity
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 tokens
type TokenManager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
}

func NewTokenManager(secret, issuer string, accessTTL, resetTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		resetTTL:  resetTTL,
		now:       time.Now,
	}
}

// IssueAccessToken signs a session token for the identity
func (m *TokenManager) IssueAccessToken(id Identity) (string, error) {
	return m.sign(id, purposeAccess, m.accessTTL)
}

// IssueResetToken signs a short-lived password reset token
func (m *TokenManager) IssueResetToken(id Identity) (string, error) {
	return m.sign(id, purposeReset, m.resetTTL)
}

// VerifyAccessToken parses a session token
func (m *TokenManager) VerifyAccessToken(token string) (*Identity, error) {
	return m.verify(token, purposeAccess)
}

// VerifyResetToken parses a password reset token
func (m *TokenManager) VerifyResetToken(token string) (*Identity, error) {
	return m.verify(token, purposeReset)
}

func (m *TokenManager) sign(id Identity, purpose string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Identity: id,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (m *TokenManager) verify(tokenString, purpose string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Purpose != purpose {
		return nil, ErrInvalidToken
	}
	id := claims.Identity
	return &id, nil
}
