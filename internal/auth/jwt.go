// Package auth validates the bearer tokens issued by the platform's identity
// service. Tokens name the company the caller acts for in the tid claim.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims holds the JWT token payload.
type Claims struct {
	jwt.RegisteredClaims
	CompanyID string `json:"tid"`
	UserID    string `json:"uid"`
	Role      string `json:"role"`
	TokenType string `json:"typ"` // "access" or "refresh"
}

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	issuer = "timeproof"
)

// ErrInvalidToken is returned when a JWT cannot be parsed, has expired or is
// not an access token.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Identity is the caller a validated token describes.
type Identity struct {
	CompanyID uuid.UUID
	UserID    uuid.UUID
	Role      string
}

// IssueAccessToken creates a signed JWT access token. Production tokens come
// from the identity service; this is used by timeproofctl and tests.
func IssueAccessToken(secret string, companyID, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		CompanyID: companyID.String(),
		UserID:    userID.String(),
		Role:      role,
		TokenType: tokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueAccessToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}

// Authenticate validates an access token and resolves its identity. Refresh
// tokens and tokens without a company are rejected.
func Authenticate(secret, tokenString string) (Identity, error) {
	claims, err := ValidateToken(secret, tokenString)
	if err != nil {
		return Identity{}, err
	}
	if claims.TokenType == tokenTypeRefresh {
		return Identity{}, fmt.Errorf("auth.Authenticate: refresh token: %w", ErrInvalidToken)
	}

	companyID, err := uuid.Parse(claims.CompanyID)
	if err != nil || companyID == uuid.Nil {
		return Identity{}, fmt.Errorf("auth.Authenticate: company claim: %w", ErrInvalidToken)
	}

	var userID uuid.UUID
	if claims.UserID != "" {
		userID, err = uuid.Parse(claims.UserID)
		if err != nil {
			return Identity{}, fmt.Errorf("auth.Authenticate: user claim: %w", ErrInvalidToken)
		}
	}

	return Identity{CompanyID: companyID, UserID: userID, Role: claims.Role}, nil
}
