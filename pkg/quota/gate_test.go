package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

type fixedCounts struct {
	users, members, documents int
	err                       error
}

func (f *fixedCounts) CountActiveOwned(context.Context, string) (int, error) {
	return f.users, f.err
}
func (f *fixedCounts) CountNotDeclined(context.Context, string) (int, error) {
	return f.members, f.err
}
func (f *fixedCounts) CountByTenant(context.Context, string) (int, error) {
	return f.documents, f.err
}

func gateWith(c *fixedCounts) *Gate { return NewGate(c, c, c) }

func TestCheckSubscription(t *testing.T) {
	free := &tiers.Plan{Slug: tiers.SlugGratuito, PriceCents: 0, UserLimit: 1, DocumentLimit: 3}
	paid := &tiers.Plan{Slug: tiers.SlugBasico, PriceCents: 4900, UserLimit: 3, DocumentLimit: 50}
	g := gateWith(&fixedCounts{})

	regular := &tenants.Tenant{SubscriptionStatus: tenants.SubscriptionActive}
	overdue := &tenants.Tenant{SubscriptionStatus: tenants.SubscriptionOverdue}
	canceled := &tenants.Tenant{SubscriptionStatus: tenants.SubscriptionCanceled}
	admin := &auth.Principal{Role: auth.RoleAdmin}
	super := &auth.Principal{Role: auth.RoleSuperAdmin}

	assert.NoError(t, g.CheckSubscription(regular, paid, admin))
	assert.ErrorIs(t, g.CheckSubscription(overdue, paid, admin), ErrSubscriptionIrregular)
	assert.ErrorIs(t, g.CheckSubscription(canceled, paid, admin), ErrSubscriptionIrregular)

	// free plans never block even when the status column is irregular
	assert.NoError(t, g.CheckSubscription(overdue, free, admin))

	// super admin bypasses the subscription gate only
	assert.NoError(t, g.CheckSubscription(overdue, paid, super))
}

func TestCheckUserLimit(t *testing.T) {
	plan := &tiers.Plan{UserLimit: 3}

	// 1 owned user + 1 member = 2 < 3
	assert.NoError(t, gateWith(&fixedCounts{users: 1, members: 1}).CheckUserLimit(context.Background(), "t1", plan))

	// at the limit: pending and active members both hold seats
	assert.ErrorIs(t,
		gateWith(&fixedCounts{users: 1, members: 2}).CheckUserLimit(context.Background(), "t1", plan),
		ErrUserLimit)
}

func TestCheckDocumentLimit(t *testing.T) {
	plan := &tiers.Plan{DocumentLimit: 3}

	assert.NoError(t, gateWith(&fixedCounts{documents: 2}).CheckDocumentLimit(context.Background(), "t1", plan))
	assert.ErrorIs(t,
		gateWith(&fixedCounts{documents: 3}).CheckDocumentLimit(context.Background(), "t1", plan),
		ErrDocumentLimit)
}

func TestCountingErrorsFailClosed(t *testing.T) {
	broken := gateWith(&fixedCounts{err: errors.New("db down")})
	plan := &tiers.Plan{UserLimit: 100, DocumentLimit: 100}

	err := broken.CheckUserLimit(context.Background(), "t1", plan)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserLimit)

	err = broken.CheckDocumentLimit(context.Background(), "t1", plan)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDocumentLimit)
}
