package identity

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

type resetCapture struct {
	codes chan string
}

func (r *resetCapture) SendPasswordResetCode(_ context.Context, _ string, _ Channel, _ string, code string) error {
	r.codes <- code
	return nil
}

type identityFixture struct {
	db       *store.DB
	service  *Service
	users    *UserStore
	sessions *SessionStore
	members  *tenants.MemberStore
	tenants  *tenants.TenantStore
	audits   *audit.Store
	resets   *resetCapture
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := NewUserStore(db)
	sessions := NewSessionStore(db)
	otps := NewOTPStore(db)
	tenantStore := tenants.NewTenantStore(db)
	memberStore := tenants.NewMemberStore(db)
	planStore := tiers.NewStore(db)
	auditStore := audit.NewStore(db)
	for _, init := range []func(context.Context) error{
		users.Init, sessions.Init, otps.Init, tenantStore.Init, planStore.Init, auditStore.Init,
	} {
		require.NoError(t, init(ctx))
	}
	require.NoError(t, planStore.Seed(ctx))

	tokens := testTokens()
	chain := audit.NewChain(db, logger)
	resets := &resetCapture{codes: make(chan string, 4)}

	service := NewService(db, users, sessions, otps, tokens,
		tenantStore, memberStore, planStore, chain, resets, logger)
	return &identityFixture{
		db: db, service: service, users: users, sessions: sessions,
		members: memberStore, tenants: tenantStore, audits: auditStore, resets: resets,
	}
}

func (f *identityFixture) register(t *testing.T, name, email string) *AuthResult {
	t.Helper()
	res, err := f.service.Register(context.Background(), RegisterInput{
		Name: name, Email: email, Password: "s3cret1", IP: "10.0.0.1", UserAgent: "test",
	})
	require.NoError(t, err)
	return res
}

func TestRegister(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	res := f.register(t, "Maria Conceição", "maria@x.com")
	require.NotNil(t, res.User)
	assert.Empty(t, res.User.PasswordHash)
	assert.Equal(t, auth.RoleAdmin, res.User.Role)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	tenant, err := f.tenants.GetByID(ctx, res.User.TenantID)
	require.NoError(t, err)
	assert.Equal(t, "maria-conceicao", tenant.Slug)
	assert.Equal(t, tenants.TenantActive, tenant.Status)

	member, err := f.members.FindActive(ctx, res.User.ID, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.MemberActive, member.Status)

	events, err := f.audits.ListByEntity(ctx, res.User.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionUserCreated, events[0].Action)

	// same display name registers fine on a suffixed slug
	again := f.register(t, "Maria Conceição", "maria2@x.com")
	other, err := f.tenants.GetByID(ctx, again.User.TenantID)
	require.NoError(t, err)
	assert.NotEqual(t, tenant.Slug, other.Slug)
}

func TestRegister_Conflicts(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, RegisterInput{Name: "A", Email: "a@x.com", Password: "s3cret1", CPF: "52998224725"})
	require.NoError(t, err)

	_, err = f.service.Register(ctx, RegisterInput{Name: "B", Email: "a@x.com", Password: "s3cret1"})
	assert.ErrorIs(t, err, ErrEmailInUse)

	_, err = f.service.Register(ctx, RegisterInput{Name: "C", Email: "c@x.com", Password: "s3cret1", CPF: "52998224725"})
	assert.ErrorIs(t, err, ErrCpfInUse)

	_, err = f.service.Register(ctx, RegisterInput{Name: "D", Email: "d@x.com", Password: "short"})
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestLogin(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	reg := f.register(t, "Login User", "login@x.com")

	res, err := f.service.Login(ctx, "login@x.com", "s3cret1", "10.0.0.2", "test")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)

	claims, err := testTokens().VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.TenantID, claims.TenantID)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	events, err := f.audits.ListByEntity(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionLoginSuccess, events[len(events)-1].Action)

	// unknown email and wrong password return the same error
	_, err = f.service.Login(ctx, "nobody@x.com", "s3cret1", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.service.Login(ctx, "login@x.com", "wrong-pass", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_BlockedUser(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	reg := f.register(t, "Blocked", "blocked@x.com")
	require.NoError(t, f.users.UpdateStatus(ctx, reg.User.ID, UserBlocked))

	_, err := f.service.Login(ctx, "blocked@x.com", "s3cret1", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesSession(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	reg := f.register(t, "Rotator", "rot@x.com")

	res, err := f.service.Refresh(ctx, reg.RefreshToken, "10.0.0.3", "test")
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken, res.RefreshToken)

	claims, err := testTokens().VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.TenantID, claims.TenantID)

	// the old raw token was consumed by the rotation
	_, err = f.service.Refresh(ctx, reg.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrSessionInvalid)

	// the new one works
	_, err = f.service.Refresh(ctx, res.RefreshToken, "", "")
	require.NoError(t, err)
}

func TestRefresh_PreservesSwitchedTenant(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	owner := f.register(t, "Owner", "owner@x.com")
	guest := f.register(t, "Guest", "guest@x.com")

	member := &tenants.Member{
		TenantID: owner.User.TenantID, UserID: guest.User.ID, Email: "guest@x.com",
		Role: string(auth.RoleManager), Status: tenants.MemberActive, InvitedAt: time.Now().UTC(),
	}
	require.NoError(t, f.members.Upsert(ctx, f.db, member))

	switched, err := f.service.SwitchTenant(ctx, guest.User.ID, owner.User.TenantID, "", "")
	require.NoError(t, err)

	res, err := f.service.Refresh(ctx, switched.RefreshToken, "", "")
	require.NoError(t, err)
	claims, err := testTokens().VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, owner.User.TenantID, claims.TenantID)
	assert.Equal(t, auth.RoleManager, claims.Role)
}

func TestLogout_Idempotent(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	reg := f.register(t, "Leaver", "leave@x.com")

	require.NoError(t, f.service.Logout(ctx, reg.User.ID, reg.RefreshToken))
	// second logout with the same token is a no-op
	require.NoError(t, f.service.Logout(ctx, reg.User.ID, reg.RefreshToken))

	_, err := f.service.Refresh(ctx, reg.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSwitchTenant(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	owner := f.register(t, "Owner Two", "owner2@x.com")
	guest := f.register(t, "Guest Two", "guest2@x.com")

	// no membership: forbidden
	_, err := f.service.SwitchTenant(ctx, guest.User.ID, owner.User.TenantID, "", "")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	member := &tenants.Member{
		TenantID: owner.User.TenantID, UserID: guest.User.ID, Email: "guest2@x.com",
		Role: string(auth.RoleViewer), Status: tenants.MemberActive, InvitedAt: time.Now().UTC(),
	}
	require.NoError(t, f.members.Upsert(ctx, f.db, member))

	switched, err := f.service.SwitchTenant(ctx, guest.User.ID, owner.User.TenantID, "", "")
	require.NoError(t, err)
	claims, err := testTokens().VerifyAccess(switched.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleViewer, claims.Role)

	// switching is additive: the original session still rotates fine
	_, err = f.service.Refresh(ctx, guest.RefreshToken, "", "")
	require.NoError(t, err)

	// switching back to the personal tenant restores ADMIN
	back, err := f.service.SwitchTenant(ctx, guest.User.ID, guest.User.TenantID, "", "")
	require.NoError(t, err)
	claims, err = testTokens().VerifyAccess(back.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestPasswordReset(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	f.register(t, "Reset Me", "reset@x.com")

	// unknown address: silent no-op, nothing delivered
	require.NoError(t, f.service.RequestPasswordReset(ctx, "ghost@x.com", ChannelEmail))
	select {
	case <-f.resets.codes:
		t.Fatal("no code should be delivered for an unknown email")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, f.service.RequestPasswordReset(ctx, "reset@x.com", ChannelEmail))
	var code string
	select {
	case code = <-f.resets.codes:
	case <-time.After(2 * time.Second):
		t.Fatal("reset code was not delivered")
	}
	require.Regexp(t, `^\d{6}$`, code)

	// wrong code fails and leaves the row redeemable
	err := f.service.ResetPassword(ctx, "reset@x.com", "000000", "newpass1")
	if code == "000000" {
		t.Skip("minted the one colliding code")
	}
	assert.ErrorIs(t, err, ErrOtpInvalid)

	require.NoError(t, f.service.ResetPassword(ctx, "reset@x.com", code, "newpass1"))

	// the code was destroyed on success
	err = f.service.ResetPassword(ctx, "reset@x.com", code, "anotherpass")
	assert.ErrorIs(t, err, ErrOtpExpired)

	_, err = f.service.Login(ctx, "reset@x.com", "s3cret1", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.service.Login(ctx, "reset@x.com", "newpass1", "", "")
	require.NoError(t, err)
}

func TestPasswordReset_WhatsAppRequiresPhone(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	f.register(t, "No Phone", "nophone@x.com")

	err := f.service.RequestPasswordReset(ctx, "nophone@x.com", ChannelWhatsApp)
	assert.ErrorIs(t, err, ErrMissingPhone)
}
