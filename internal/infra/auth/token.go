package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "zapgate/pkg/errors"
)

// Claims carries the authenticated user's identity inside a signed token.
type Claims struct {
	UserID  uuid.UUID `json:"userId"`
	IsAdmin bool      `json:"isAdmin"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies user tokens with HS256. Instance tokens
// are opaque and never pass through here; they are matched byte for byte
// against the store.
type TokenIssuer struct {
	secret  []byte
	expires time.Duration
}

func NewTokenIssuer(secret string, expires time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:  []byte(secret),
		expires: expires,
	}
}

// Issue signs a token for the user.
func (t *TokenIssuer) Issue(userID uuid.UUID, isAdmin bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:  userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expires)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and returns its claims. Every failure mode,
// including expiry and algorithm confusion, collapses to ErrInvalidToken.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperrors.ErrInvalidToken
	}
	if claims.UserID == uuid.Nil {
		return nil, apperrors.ErrInvalidToken
	}
	return claims, nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against its stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
