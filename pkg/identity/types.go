// Package identity implements accounts, stateless credentials, refresh
// sessions and one-time codes. Raw refresh tokens and OTPs are never
// persisted or logged; only their hashes reach storage.
package identity

import (
	"errors"
	"time"

	"github.com/assinado-app/assinado/pkg/auth"
)

var (
	ErrEmailInUse         = errors.New("identity: email already registered")
	ErrCpfInUse           = errors.New("identity: cpf already registered")
	ErrInvalidCredentials = errors.New("identity: invalid email or password")
	ErrSessionInvalid     = errors.New("identity: refresh session not found or already used")
	ErrUserNotFound       = errors.New("identity: user not found")
	ErrMissingPhone       = errors.New("identity: user has no phone for whatsapp delivery")
	ErrOtpExpired         = errors.New("identity: code expired or not found")
	ErrOtpInvalid         = errors.New("identity: code does not match")
	ErrWeakPassword       = errors.New("identity: password must have at least 6 characters")
)

// UserStatus gates login and API access.
type UserStatus string

const (
	UserActive  UserStatus = "ACTIVE"
	UserBlocked UserStatus = "BLOCKED"
)

// User is an account. TenantID points at the personal tenant created at
// registration; memberships in other tenants live in pkg/tenants.
type User struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	CPF          string     `json:"cpf,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Role         auth.Role  `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Sanitized strips the secret material for API responses.
func (u *User) Sanitized() *User {
	c := *u
	c.PasswordHash = ""
	return &c
}

// Session records one outstanding refresh credential by hash. Raw
// tokens are usable exactly once: Refresh deletes the row it matched.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	IP               string
	UserAgent        string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// OTPContext scopes a one-time code to the flow that minted it.
type OTPContext string

const (
	OTPLogin         OTPContext = "LOGIN"
	OTPSigning       OTPContext = "SIGNING"
	OTPPasswordReset OTPContext = "PASSWORD_RESET"
)

// OTPCode is a stored one-time code. CodeHash is a bcrypt hash; the
// plain code exists only in the delivery message.
type OTPCode struct {
	ID        string
	Context   OTPContext
	Recipient string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the code is no longer redeemable at now.
func (o *OTPCode) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// TokenPair is the issued credential set.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResult is what login/register/refresh/switch return.
type AuthResult struct {
	TokenPair
	User *User `json:"user"`
}
