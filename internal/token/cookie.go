// Package token signs and parses the session cookie. The cookie carries only
// the session identifier and shop domain as HMAC-signed claims, never the
// access token, which stays store-side.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teja230/storesight-sub006/internal/config"
)

// ErrInvalidCookie is returned when a session cookie fails signature or
// claim validation.
var ErrInvalidCookie = errors.New("invalid session cookie")

// CookieClaims are the signed claims embedded in the session cookie.
type CookieClaims struct {
	ShopDomain string `json:"shop_domain"`
	jwt.RegisteredClaims
}

// CookieSigner issues and validates signed session cookies.
type CookieSigner struct {
	secret []byte
	issuer string
}

// NewCookieSigner creates a cookie signer from the cookie configuration.
func NewCookieSigner(cfg *config.CookieConfig) *CookieSigner {
	return &CookieSigner{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}
}

// Issue creates a signed cookie value for the session. The cookie expiry
// mirrors the session expiry so a stale cookie fails validation before it
// ever reaches the resolver.
func (s *CookieSigner) Issue(sessionID, shopDomain string, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := &CookieClaims{
		ShopDomain: shopDomain,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

// Parse validates a cookie value and returns the session id and shop domain
// it carries.
func (s *CookieSigner) Parse(value string) (sessionID, shopDomain string, err error) {
	claims := &CookieClaims{}
	parsed, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidCookie
	}

	if claims.Subject == "" {
		return "", "", ErrInvalidCookie
	}

	return claims.Subject, claims.ShopDomain, nil
}
