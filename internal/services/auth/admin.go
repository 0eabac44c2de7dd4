package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim required on admin tokens
const RoleAdmin = "admin"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrNotAdmin     = errors.New("token is not an admin token")
)

// AdminClaims are the claims of an admin panel token
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminVerifier checks HS256 admin tokens
type AdminVerifier struct {
	secret []byte
}

func NewAdminVerifier(secret string) *AdminVerifier {
	return &AdminVerifier{secret: []byte(secret)}
}

// Issue signs an admin token valid for ttl
func (v *AdminVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &AdminClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates tokenString and requires the admin role. An empty secret
// rejects every token.
func (v *AdminVerifier) Verify(tokenString string) (*AdminClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("admin secret not configured")
	}

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Role != RoleAdmin {
		return nil, ErrNotAdmin
	}
	return claims, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header
func BearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
