// Package tenants implements the isolation boundary: tenant rows,
// memberships in non-personal tenants, the invite lifecycle, and
// per-tenant notification/branding settings.
package tenants

import (
	"errors"
	"time"
)

var (
	ErrTenantNotFound    = errors.New("tenants: tenant not found")
	ErrMemberNotFound    = errors.New("tenants: member not found")
	ErrUserNotRegistered = errors.New("tenants: invited email has no registered account")
	ErrAlreadyMember     = errors.New("tenants: user is already an active member")
	ErrSlugTaken         = errors.New("tenants: slug already in use")
)

// TenantStatus is the tenant lifecycle state.
type TenantStatus string

const (
	TenantActive    TenantStatus = "ACTIVE"
	TenantInactive  TenantStatus = "INACTIVE"
	TenantSuspended TenantStatus = "SUSPENDED"
)

// SubscriptionStatus mirrors the payment gateway state. Empty means the
// tenant never entered the gateway (free plan, or not yet synced).
type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = ""
	SubscriptionPending  SubscriptionStatus = "PENDING"
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionOverdue  SubscriptionStatus = "OVERDUE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
)

// Irregular reports whether the status blocks mutating operations on
// paid plans.
func (s SubscriptionStatus) Irregular() bool {
	return s == SubscriptionOverdue || s == SubscriptionCanceled
}

// Tenant is the isolation unit; it owns users, documents and settings.
type Tenant struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Slug                string             `json:"slug"`
	Status              TenantStatus       `json:"status"`
	PlanID              string             `json:"planId"`
	AsaasCustomerID     string             `json:"asaasCustomerId,omitempty"`
	AsaasSubscriptionID string             `json:"asaasSubscriptionId,omitempty"`
	SubscriptionStatus  SubscriptionStatus `json:"subscriptionStatus,omitempty"`
	CreatedAt           time.Time          `json:"createdAt"`
}

// MemberStatus is the invite lifecycle state.
type MemberStatus string

const (
	MemberPending  MemberStatus = "PENDING"
	MemberActive   MemberStatus = "ACTIVE"
	MemberDeclined MemberStatus = "DECLINED"
)

// Member is a user's membership in a non-personal tenant.
// (tenantId, email) is unique; userId may lag behind the email until
// the invited address registers or accepts.
type Member struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenantId"`
	UserID    string       `json:"userId,omitempty"`
	Email     string       `json:"email"`
	Role      string       `json:"role"`
	Status    MemberStatus `json:"status"`
	InvitedAt time.Time    `json:"invitedAt"`

	// TenantName is populated on list reads for the switcher UI.
	TenantName string `json:"tenantName,omitempty"`
}

// Summary is one row of the tenant switcher: the user's personal tenant
// plus every active membership.
type Summary struct {
	TenantID   string `json:"tenantId"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	IsPersonal bool   `json:"isPersonal"`
}

// Settings holds per-tenant notification credentials and branding.
// Channel credentials override the process-wide ones when Active and
// complete.
type Settings struct {
	TenantID           string `json:"tenantId"`
	AppName            string `json:"appName"`
	PrimaryColor       string `json:"primaryColor"`
	LogoURL            string `json:"logoUrl,omitempty"`
	ZapiInstanceID     string `json:"zapiInstanceId,omitempty"`
	ZapiToken          string `json:"zapiToken,omitempty"`
	ZapiClientToken    string `json:"zapiClientToken,omitempty"`
	ZapiActive         bool   `json:"zapiActive"`
	ResendAPIKey       string `json:"resendApiKey,omitempty"`
	ResendActive       bool   `json:"resendActive"`
	FinalEmailTemplate string `json:"finalEmailTemplate,omitempty"`
}

// Usage is the active tenant's occupancy, reported by GET /tenants/my.
type Usage struct {
	Users         int `json:"users"`
	Documents     int `json:"documents"`
	UserLimit     int `json:"userLimit"`
	DocumentLimit int `json:"documentLimit"`
}
