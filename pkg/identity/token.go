package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/assinado-app/assinado/pkg/auth"
)

const tokenIssuer = "assinado"

// accessClaims is the access credential payload. tid and role are the
// *active* tenant and role, which may differ from the user row after a
// tenant switch.
type accessClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid"`
	Role     string `json:"role"`
}

// refreshClaims carries the active tenant so rotation preserves it.
type refreshClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid"`
}

// TokenManager mints and verifies the two stateless credentials with
// separate HMAC secrets.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

func (tm *TokenManager) registered(userID string, ttl time.Duration) jwt.RegisteredClaims {
	issued := tm.now().UTC()
	return jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
	}
}

// MintAccess issues the short-lived credential for the active tenant
// and role.
func (tm *TokenManager) MintAccess(userID, tenantID string, role auth.Role) (string, error) {
	claims := accessClaims{
		RegisteredClaims: tm.registered(userID, tm.accessTTL),
		TenantID:         tenantID,
		Role:             string(role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.accessSecret)
	if err != nil {
		return "", fmt.Errorf("identity: failed to sign access token: %w", err)
	}
	return signed, nil
}

// MintRefresh issues the long-lived credential; the returned expiry is
// what the session row records.
func (tm *TokenManager) MintRefresh(userID, tenantID string) (string, time.Time, error) {
	claims := refreshClaims{
		RegisteredClaims: tm.registered(userID, tm.refreshTTL),
		TenantID:         tenantID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: failed to sign refresh token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (tm *TokenManager) keyFunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	}
}

// VerifyAccess validates signature, expiry and issuer and returns the
// embedded claims. Satisfies the authenticate middleware's verifier.
func (tm *TokenManager) VerifyAccess(token string) (*auth.AccessClaims, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, tm.keyFunc(tm.accessSecret),
		jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(tm.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("identity: invalid access token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("identity: invalid access token")
	}
	return &auth.AccessClaims{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     auth.Role(claims.Role),
	}, nil
}

// VerifyRefresh validates the refresh credential and returns the
// subject and the active tenant it carries.
func (tm *TokenManager) VerifyRefresh(token string) (userID, tenantID string, err error) {
	var claims refreshClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, tm.keyFunc(tm.refreshSecret),
		jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(tm.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", fmt.Errorf("identity: invalid refresh token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", "", errors.New("identity: invalid refresh token")
	}
	return claims.Subject, claims.TenantID, nil
}

var _ auth.TokenVerifier = (*TokenManager)(nil)
