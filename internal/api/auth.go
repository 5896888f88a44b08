package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/S-Corkum/caching-platform/internal/platform"
)

// Claims are the JWT claims the command surface understands
type Claims struct {
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates bearer tokens against a shared HMAC secret
type JWTValidator struct {
	secret []byte
	expiry time.Duration
}

// NewJWTValidator creates a validator. Expiry only affects tokens this
// validator issues; validation trusts the token's own expiry claim.
func NewJWTValidator(secret string, expiryHours int) *JWTValidator {
	if expiryHours <= 0 {
		expiryHours = 24
	}
	return &JWTValidator{
		secret: []byte(secret),
		expiry: time.Duration(expiryHours) * time.Hour,
	}
}

// ValidateHeader extracts the bearer token from an Authorization header
// and verifies it
func (v *JWTValidator) ValidateHeader(header string) (*Claims, error) {
	token, err := extractBearerToken(header)
	if err != nil {
		return nil, err
	}
	return v.Validate(token)
}

// Validate parses and verifies a raw token string
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, platform.Wrap(err, platform.CodeInvalidArgument, "invalid token")
	}
	if !token.Valid {
		return nil, platform.New(platform.CodeInvalidArgument, "invalid token")
	}
	return claims, nil
}

// GenerateToken issues a signed token for a subject. Used by the token
// bootstrap command and by tests.
func (v *JWTValidator) GenerateToken(subject, tenantID string, roles []string) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", platform.New(platform.CodeInvalidArgument, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", platform.New(platform.CodeInvalidArgument, "authorization header must be Bearer token")
	}
	return parts[1], nil
}
