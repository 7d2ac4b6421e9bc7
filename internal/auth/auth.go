package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"atrium-backend/internal/store"
)

// Claims are the JWT claims carried by an access token. The tenant id and
// access mode are authoritative: the service binds the unit of work from
// them, never from request parameters.
type Claims struct {
	jwt.RegisteredClaims
	TenantID int64    `json:"tenant_id"`
	Mode     string   `json:"mode"` // read_write, read_only, cross_tenant
	Roles    []string `json:"roles"`
}

// AccessTokenTTL bounds how long a tenant binding travels in a token.
const AccessTokenTTL = 15 * time.Minute

// Principal is the authenticated caller resolved from a token.
type Principal struct {
	UserID   string
	TenantID int64
	Mode     string
	Roles    []string
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	for _, r := range p.Roles {
		if r == "admin" {
			return true
		}
	}
	return false
}

// AccessMode maps the token's mode claim to the unit-of-work access mode.
// Cross-tenant access additionally requires the admin role.
func (p *Principal) AccessMode() store.AccessMode {
	switch p.Mode {
	case "read_only":
		return store.ReadOnly
	case "cross_tenant":
		if p.IsAdmin() {
			return store.CrossTenantQuery
		}
		return store.ReadOnly
	default:
		return store.ReadWrite
	}
}

// GenerateAccessToken creates a signed JWT binding a user to a tenant and
// access mode.
func GenerateAccessToken(userID string, tenantID int64, mode string, roles []string, secret string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
		TenantID: tenantID,
		Mode:     mode,
		Roles:    roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates and parses a JWT, returning the claims.
func ParseAccessToken(tokenStr string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
