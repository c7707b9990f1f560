// Package quota enforces per-plan limits and subscription gating at
// the two mutation points that consume plan capacity: document upload
// and member invite. Checks fail closed: a counting error denies.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

var (
	ErrSubscriptionIrregular = errors.New("quota: subscription is overdue or canceled")
	ErrUserLimit             = errors.New("quota: plan user limit reached")
	ErrDocumentLimit         = errors.New("quota: plan document limit reached")
)

// UserCounter counts ACTIVE users whose personal tenant is the given one.
type UserCounter interface {
	CountActiveOwned(ctx context.Context, tenantID string) (int, error)
}

// MemberCounter counts memberships holding a seat (status != DECLINED).
type MemberCounter interface {
	CountNotDeclined(ctx context.Context, tenantID string) (int, error)
}

// DocumentCounter counts a tenant's documents.
type DocumentCounter interface {
	CountByTenant(ctx context.Context, tenantID string) (int, error)
}

// Gate bundles the three checks.
type Gate struct {
	users     UserCounter
	members   MemberCounter
	documents DocumentCounter
}

func NewGate(users UserCounter, members MemberCounter, documents DocumentCounter) *Gate {
	return &Gate{users: users, members: members, documents: documents}
}

// CheckSubscription blocks mutations on paid plans whose subscription
// is OVERDUE or CANCELED. Free plans never block. Super-admins bypass
// this check only; the capacity limits below still apply to them.
func (g *Gate) CheckSubscription(tenant *tenants.Tenant, plan *tiers.Plan, principal *auth.Principal) error {
	if !plan.Paid() {
		return nil
	}
	if principal != nil && principal.IsSuperAdmin() {
		return nil
	}
	if tenant.SubscriptionStatus.Irregular() {
		return ErrSubscriptionIrregular
	}
	return nil
}

// Occupancy is the seat count used against plan.UserLimit: ACTIVE users
// owned by the tenant plus every membership row not declined.
func (g *Gate) Occupancy(ctx context.Context, tenantID string) (int, error) {
	users, err := g.users.CountActiveOwned(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("quota: failed to count users: %w", err)
	}
	members, err := g.members.CountNotDeclined(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("quota: failed to count members: %w", err)
	}
	return users + members, nil
}

// CheckUserLimit denies when occupancy has reached the plan's seat
// limit. Applies to everyone, super-admins included.
func (g *Gate) CheckUserLimit(ctx context.Context, tenantID string, plan *tiers.Plan) error {
	occupancy, err := g.Occupancy(ctx, tenantID)
	if err != nil {
		return err
	}
	if occupancy >= plan.UserLimit {
		return ErrUserLimit
	}
	return nil
}

// DocumentCount reports the tenant's current document count, for usage
// reporting alongside the limits.
func (g *Gate) DocumentCount(ctx context.Context, tenantID string) (int, error) {
	count, err := g.documents.CountByTenant(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("quota: failed to count documents: %w", err)
	}
	return count, nil
}

// CheckDocumentLimit denies when the tenant's document count has
// reached the plan limit. Applies to everyone, super-admins included.
func (g *Gate) CheckDocumentLimit(ctx context.Context, tenantID string, plan *tiers.Plan) error {
	count, err := g.DocumentCount(ctx, tenantID)
	if err != nil {
		return err
	}
	if count >= plan.DocumentLimit {
		return ErrDocumentLimit
	}
	return nil
}
