package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/assinado-app/assinado/pkg/store"
)

const tenantSchema = `
CREATE TABLE IF NOT EXISTS tenants (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL,
	slug                  TEXT NOT NULL UNIQUE,
	status                TEXT NOT NULL,
	plan_id               TEXT NOT NULL,
	asaas_customer_id     TEXT NOT NULL DEFAULT '',
	asaas_subscription_id TEXT NOT NULL DEFAULT '',
	subscription_status   TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tenant_members (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL,
	role       TEXT NOT NULL,
	status     TEXT NOT NULL,
	invited_at TEXT NOT NULL,
	UNIQUE (tenant_id, email)
);
CREATE INDEX IF NOT EXISTS idx_members_user ON tenant_members (user_id, status);
CREATE INDEX IF NOT EXISTS idx_members_email ON tenant_members (email, status);
`

// TenantStore persists tenants.
type TenantStore struct {
	db *store.DB
}

func NewTenantStore(db *store.DB) *TenantStore {
	return &TenantStore{db: db}
}

func (s *TenantStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, tenantSchema); err != nil {
		return fmt.Errorf("tenants: failed to init schema: %w", err)
	}
	return nil
}

const tenantColumns = `id, name, slug, status, plan_id, asaas_customer_id, asaas_subscription_id, subscription_status, created_at`

func scanTenant(row interface{ Scan(...any) error }) (*Tenant, error) {
	var t Tenant
	var createdAt string
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.PlanID,
		&t.AsaasCustomerID, &t.AsaasSubscriptionID, &t.SubscriptionStatus, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("tenants: failed to scan tenant: %w", err)
	}
	t.CreatedAt = store.ParseTime(createdAt)
	return &t, nil
}

// Create inserts a tenant inside tx. ErrSlugTaken on slug collision so
// the caller can retry with a suffixed slug.
func (s *TenantStore) Create(ctx context.Context, tx store.DBTX, t *Tenant) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.Slug, string(t.Status), t.PlanID,
		t.AsaasCustomerID, t.AsaasSubscriptionID, string(t.SubscriptionStatus),
		store.FormatTime(t.CreatedAt))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("tenants: failed to insert tenant: %w", err)
	}
	return nil
}

func (s *TenantStore) GetByID(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
	return scanTenant(row)
}

// UpdateSubscription mirrors gateway state onto the tenant row.
func (s *TenantStore) UpdateSubscription(ctx context.Context, id string, customerID, subscriptionID string, status SubscriptionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET asaas_customer_id = $1, asaas_subscription_id = $2, subscription_status = $3 WHERE id = $4`,
		customerID, subscriptionID, string(status), id)
	if err != nil {
		return fmt.Errorf("tenants: failed to update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// UpdateStatus moves the tenant lifecycle state.
func (s *TenantStore) UpdateStatus(ctx context.Context, id string, status TenantStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("tenants: failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// SetPlan switches the tenant's plan (super-admin and billing flows).
func (s *TenantStore) SetPlan(ctx context.Context, id, planID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET plan_id = $1 WHERE id = $2`, planID, id)
	if err != nil {
		return fmt.Errorf("tenants: failed to set plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// MemberStore persists memberships and invites.
type MemberStore struct {
	db *store.DB
}

func NewMemberStore(db *store.DB) *MemberStore {
	return &MemberStore{db: db}
}

const memberColumns = `id, tenant_id, user_id, email, role, status, invited_at`

func scanMember(row interface{ Scan(...any) error }) (*Member, error) {
	var m Member
	var invitedAt string
	err := row.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Email, &m.Role, &m.Status, &invitedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("tenants: failed to scan member: %w", err)
	}
	m.InvitedAt = store.ParseTime(invitedAt)
	return &m, nil
}

// Upsert inserts or refreshes the (tenantId, email) row. Re-inviting a
// declined or pending member resets it to the new role and PENDING.
func (s *MemberStore) Upsert(ctx context.Context, dbtx store.DBTX, m *Member) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := dbtx.ExecContext(ctx,
		`INSERT INTO tenant_members (`+memberColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, email) DO UPDATE SET
			user_id = excluded.user_id,
			role = excluded.role,
			status = excluded.status,
			invited_at = excluded.invited_at`,
		m.ID, m.TenantID, m.UserID, m.Email, m.Role, string(m.Status), store.FormatTime(m.InvitedAt))
	if err != nil {
		return fmt.Errorf("tenants: failed to upsert member: %w", err)
	}
	return nil
}

func (s *MemberStore) GetByID(ctx context.Context, id string) (*Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM tenant_members WHERE id = $1`, id)
	return scanMember(row)
}

// FindActive locates a user's active membership in one tenant.
func (s *MemberStore) FindActive(ctx context.Context, userID, tenantID string) (*Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM tenant_members WHERE user_id = $1 AND tenant_id = $2 AND status = 'ACTIVE'`,
		userID, tenantID)
	return scanMember(row)
}

// FindByTenantEmail locates the (tenantId, email) row regardless of status.
func (s *MemberStore) FindByTenantEmail(ctx context.Context, tenantID, email string) (*Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM tenant_members WHERE tenant_id = $1 AND email = $2`,
		tenantID, email)
	return scanMember(row)
}

func (s *MemberStore) collect(rows *sql.Rows, withTenantName bool) ([]*Member, error) {
	defer func() { _ = rows.Close() }()
	var members []*Member
	for rows.Next() {
		var m Member
		var invitedAt string
		var err error
		if withTenantName {
			err = rows.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Email, &m.Role, &m.Status, &invitedAt, &m.TenantName)
		} else {
			err = rows.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Email, &m.Role, &m.Status, &invitedAt)
		}
		if err != nil {
			return nil, fmt.Errorf("tenants: failed to scan member: %w", err)
		}
		m.InvitedAt = store.ParseTime(invitedAt)
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenants: failed to iterate members: %w", err)
	}
	return members, nil
}

// ListPendingFor returns invites addressed to the user by id or email.
func (s *MemberStore) ListPendingFor(ctx context.Context, userID, email string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.tenant_id, m.user_id, m.email, m.role, m.status, m.invited_at, t.name
		 FROM tenant_members m JOIN tenants t ON t.id = m.tenant_id
		 WHERE (m.user_id = $1 OR m.email = $2) AND m.status = 'PENDING'
		 ORDER BY m.invited_at DESC`,
		userID, email)
	if err != nil {
		return nil, fmt.Errorf("tenants: failed to list pending invites: %w", err)
	}
	return s.collect(rows, true)
}

// ListActiveByUser returns the user's active memberships with tenant names.
func (s *MemberStore) ListActiveByUser(ctx context.Context, userID string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.tenant_id, m.user_id, m.email, m.role, m.status, m.invited_at, t.name
		 FROM tenant_members m JOIN tenants t ON t.id = m.tenant_id
		 WHERE m.user_id = $1 AND m.status = 'ACTIVE'
		 ORDER BY m.invited_at ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("tenants: failed to list memberships: %w", err)
	}
	return s.collect(rows, true)
}

// CountNotDeclined is the membership half of plan occupancy: every
// (tenantId, email) row that was not declined holds a seat.
func (s *MemberStore) CountNotDeclined(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tenant_members WHERE tenant_id = $1 AND status != 'DECLINED'`,
		tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("tenants: failed to count members: %w", err)
	}
	return n, nil
}

// SetStatus resolves an invite, binding the user id when it was invited
// by email only.
func (s *MemberStore) SetStatus(ctx context.Context, id string, status MemberStatus, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenant_members SET status = $1, user_id = $2 WHERE id = $3`,
		string(status), userID, id)
	if err != nil {
		return fmt.Errorf("tenants: failed to set member status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotFound
	}
	return nil
}
