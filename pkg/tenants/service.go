package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tiers"
)

// Directory is the slice of the identity layer this package needs.
// Declared here so the dependency points identity -> tenants, not back.
type Directory interface {
	// LookupByEmail resolves a registered account. ok is false when the
	// email has no account.
	LookupByEmail(ctx context.Context, email string) (userID string, ok bool, err error)
	// PersonalTenantID returns the tenant a user owns.
	PersonalTenantID(ctx context.Context, userID string) (string, error)
	// CreateAdminUser inserts the owner account for a freshly created
	// tenant inside tx.
	CreateAdminUser(ctx context.Context, tx store.DBTX, tenantID, name, email, password string) (userID string, err error)
}

// LimitGate is the slice of the quota layer invoked before an invite.
type LimitGate interface {
	CheckSubscription(t *Tenant, plan *tiers.Plan, p *auth.Principal) error
	CheckUserLimit(ctx context.Context, tenantID string, plan *tiers.Plan) error
	Occupancy(ctx context.Context, tenantID string) (int, error)
	DocumentCount(ctx context.Context, tenantID string) (int, error)
}

// InviteNotifier delivers the onboarding email. Implementations must be
// safe for concurrent use; delivery runs detached from the request.
type InviteNotifier interface {
	SendInvite(ctx context.Context, tenantID, email, tenantName, link string) error
}

// slugAttempts bounds the collision retry loop.
const slugAttempts = 5

// Service implements tenant provisioning, the membership lifecycle and
// per-tenant settings.
type Service struct {
	db       *store.DB
	tenants  *TenantStore
	members  *MemberStore
	settings *SettingsStore
	plans    *tiers.Store
	dir      Directory
	gate     LimitGate
	notifier InviteNotifier
	chain    *audit.Chain
	logger   *slog.Logger
	frontURL string
	now      func() time.Time
}

type ServiceOption func(*Service)

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(db *store.DB, tenantStore *TenantStore, memberStore *MemberStore, settingsStore *SettingsStore,
	plans *tiers.Store, dir Directory, gate LimitGate, notifier InviteNotifier,
	chain *audit.Chain, logger *slog.Logger, frontURL string, opts ...ServiceOption) *Service {
	s := &Service{
		db:       db,
		tenants:  tenantStore,
		members:  memberStore,
		settings: settingsStore,
		plans:    plans,
		dir:      dir,
		gate:     gate,
		notifier: notifier,
		chain:    chain,
		logger:   logger,
		frontURL: frontURL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTenantInput provisions a tenant plus its owner account.
type CreateTenantInput struct {
	Name          string
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

// CreateTenantWithAdmin provisions a tenant on the basico plan and its
// owner in one transaction. Slug collisions retry with a random suffix.
func (s *Service) CreateTenantWithAdmin(ctx context.Context, principal *auth.Principal, in CreateTenantInput) (*Tenant, error) {
	plan, err := s.plans.GetBySlug(ctx, tiers.SlugBasico)
	if err != nil {
		return nil, err
	}

	var tenant *Tenant
	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		tenant, err = s.createTenant(ctx, tx, in.Name, plan.ID)
		if err != nil {
			return err
		}
		if _, err := s.dir.CreateAdminUser(ctx, tx, tenant.ID, in.AdminName, in.AdminEmail, in.AdminPassword); err != nil {
			return err
		}
		_, err = s.chain.Append(ctx, tx, audit.Input{
			TenantID:   tenant.ID,
			ActorKind:  audit.ActorUser,
			ActorID:    principal.ID,
			EntityType: audit.EntityTenant,
			EntityID:   tenant.ID,
			Action:     audit.ActionUserCreated,
			Payload:    map[string]any{"email": in.AdminEmail, "tenantName": tenant.Name},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// createTenant inserts the row, retrying the slug with a random suffix
// on collision.
func (s *Service) createTenant(ctx context.Context, tx store.DBTX, name, planID string) (*Tenant, error) {
	base := Slugify(name)
	slug := base
	for attempt := 0; attempt < slugAttempts; attempt++ {
		tenant := &Tenant{
			Name:      name,
			Slug:      slug,
			Status:    TenantActive,
			PlanID:    planID,
			CreatedAt: s.now().UTC(),
		}
		err := s.tenants.Create(ctx, tx, tenant)
		if err == nil {
			return tenant, nil
		}
		if !errors.Is(err, ErrSlugTaken) {
			return nil, err
		}
		slug = base + "-" + SlugSuffix()
	}
	return nil, fmt.Errorf("tenants: failed to allocate slug for %q: %w", name, ErrSlugTaken)
}

// ListMyTenants returns the switcher rows: the user's personal tenant
// first, then every active membership.
func (s *Service) ListMyTenants(ctx context.Context, userID string) ([]*Summary, error) {
	personalID, err := s.dir.PersonalTenantID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var summaries []*Summary
	if personal, err := s.tenants.GetByID(ctx, personalID); err == nil {
		summaries = append(summaries, &Summary{
			TenantID:   personal.ID,
			Name:       personal.Name,
			Role:       string(auth.RoleAdmin),
			IsPersonal: true,
		})
	} else if !errors.Is(err, ErrTenantNotFound) {
		return nil, err
	}

	memberships, err := s.members.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		if m.TenantID == personalID {
			continue
		}
		summaries = append(summaries, &Summary{
			TenantID: m.TenantID,
			Name:     m.TenantName,
			Role:     m.Role,
		})
	}
	return summaries, nil
}

// InviteMember invites a registered account into the principal's active
// tenant. The subscription and seat gates run first; the notification
// is fire-and-forget.
func (s *Service) InviteMember(ctx context.Context, principal *auth.Principal, email, role string) (*Member, error) {
	tenant, err := s.tenants.GetByID(ctx, principal.TenantID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetByID(ctx, tenant.PlanID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CheckSubscription(tenant, plan, principal); err != nil {
		return nil, err
	}
	if err := s.gate.CheckUserLimit(ctx, tenant.ID, plan); err != nil {
		return nil, err
	}

	targetID, ok, err := s.dir.LookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotRegistered
	}

	existing, err := s.members.FindByTenantEmail(ctx, tenant.ID, email)
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == MemberActive {
		return nil, ErrAlreadyMember
	}

	member := &Member{
		TenantID:  tenant.ID,
		UserID:    targetID,
		Email:     email,
		Role:      role,
		Status:    MemberPending,
		InvitedAt: s.now().UTC(),
	}
	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.members.Upsert(ctx, tx, member); err != nil {
			return err
		}
		_, err := s.chain.Append(ctx, tx, audit.Input{
			TenantID:   tenant.ID,
			ActorKind:  audit.ActorUser,
			ActorID:    principal.ID,
			EntityType: audit.EntityTenant,
			EntityID:   tenant.ID,
			Action:     audit.ActionMemberInvited,
			Payload:    map[string]any{"email": email, "role": role},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		link := s.frontURL + "/onboarding"
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.notifier.SendInvite(ctx, tenant.ID, email, tenant.Name, link); err != nil {
				s.logger.Warn("invite delivery failed", "tenantId", tenant.ID, "error", err)
			}
		}()
	}
	return member, nil
}

// ListPendingInvites returns invites addressed to the user by id or
// current email.
func (s *Service) ListPendingInvites(ctx context.Context, userID, email string) ([]*Member, error) {
	return s.members.ListPendingFor(ctx, userID, email)
}

// RespondInvite accepts or declines a pending invite. The row must be
// addressed to the user, either by bound user id or, when the invite
// predates the account binding, by the user's current email.
func (s *Service) RespondInvite(ctx context.Context, userID, email, inviteID string, accept bool) (*Member, error) {
	member, err := s.members.GetByID(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if member.Status != MemberPending {
		return nil, ErrMemberNotFound
	}
	if member.UserID != userID && !(member.UserID == "" && member.Email == email) {
		return nil, ErrMemberNotFound
	}

	status := MemberDeclined
	if accept {
		status = MemberActive
	}
	if err := s.members.SetStatus(ctx, inviteID, status, userID); err != nil {
		return nil, err
	}
	member.Status = status
	member.UserID = userID

	if _, err := s.chain.AppendTx(ctx, audit.Input{
		TenantID:   member.TenantID,
		ActorKind:  audit.ActorUser,
		ActorID:    userID,
		EntityType: audit.EntityTenant,
		EntityID:   member.TenantID,
		Action:     audit.ActionMemberResponded,
		Payload:    map[string]any{"email": member.Email, "accepted": accept},
	}); err != nil {
		return nil, err
	}
	return member, nil
}

// TenantDetails is the active tenant plus its plan and occupancy.
type TenantDetails struct {
	Tenant *Tenant     `json:"tenant"`
	Plan   *tiers.Plan `json:"plan"`
	Usage  Usage       `json:"usage"`
}

// GetMyTenant reports the principal's active tenant with usage counts.
func (s *Service) GetMyTenant(ctx context.Context, principal *auth.Principal) (*TenantDetails, error) {
	tenant, err := s.tenants.GetByID(ctx, principal.TenantID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetByID(ctx, tenant.PlanID)
	if err != nil {
		return nil, err
	}
	occupancy, err := s.gate.Occupancy(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	documents, err := s.gate.DocumentCount(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	return &TenantDetails{
		Tenant: tenant,
		Plan:   plan,
		Usage: Usage{
			Users:         occupancy,
			Documents:     documents,
			UserLimit:     plan.UserLimit,
			DocumentLimit: plan.DocumentLimit,
		},
	}, nil
}

// GetSettings returns the tenant's notification and branding settings.
func (s *Service) GetSettings(ctx context.Context, tenantID string) (*Settings, error) {
	return s.settings.Get(ctx, tenantID)
}

// UpdateSettings replaces the tenant's settings row.
func (s *Service) UpdateSettings(ctx context.Context, tenantID string, settings *Settings) (*Settings, error) {
	settings.TenantID = tenantID
	if err := s.settings.Upsert(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}
