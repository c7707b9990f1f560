package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/crypto"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

// Channel selects the delivery route for one-time codes.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
)

const (
	resetOTPTTL  = 15 * time.Minute
	minPassword  = 6
	slugAttempts = 5
)

// ResetNotifier delivers password-reset codes. Implementations must not
// log the code.
type ResetNotifier interface {
	SendPasswordResetCode(ctx context.Context, tenantID string, channel Channel, recipient, code string) error
}

// Service implements registration, login, session rotation, tenant
// switching and password reset.
type Service struct {
	db       *store.DB
	users    *UserStore
	sessions *SessionStore
	otps     *OTPStore
	tokens   *TokenManager
	tenants  *tenants.TenantStore
	members  *tenants.MemberStore
	plans    *tiers.Store
	chain    *audit.Chain
	notifier ResetNotifier
	logger   *slog.Logger
	now      func() time.Time
}

type ServiceOption func(*Service)

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(db *store.DB, users *UserStore, sessions *SessionStore, otps *OTPStore,
	tokens *TokenManager, tenantStore *tenants.TenantStore, memberStore *tenants.MemberStore,
	plans *tiers.Store, chain *audit.Chain, notifier ResetNotifier, logger *slog.Logger,
	opts ...ServiceOption) *Service {
	s := &Service{
		db:       db,
		users:    users,
		sessions: sessions,
		otps:     otps,
		tokens:   tokens,
		tenants:  tenantStore,
		members:  memberStore,
		plans:    plans,
		chain:    chain,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// activeRole resolves the role carried by fresh credentials for the
// user's own tenant.
func activeRole(u *User) auth.Role {
	if u.Role == auth.RoleSuperAdmin {
		return auth.RoleSuperAdmin
	}
	return auth.RoleAdmin
}

// issue mints an access/refresh pair for (user, tenant, role) and
// records the session.
func (s *Service) issue(ctx context.Context, userID, tenantID string, role auth.Role, ip, userAgent string) (TokenPair, error) {
	access, err := s.tokens.MintAccess(userID, tenantID, role)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, expiresAt, err := s.tokens.MintRefresh(userID, tenantID)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.sessions.Create(ctx, userID, refresh, ip, userAgent, expiresAt); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// RegisterInput creates an account plus its personal tenant.
type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	CPF       string
	Phone     string
	IP        string
	UserAgent string
}

// Register creates the user, its personal tenant on the gratuito plan
// and an active self-membership, in one transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if len(in.Password) < minPassword {
		return nil, ErrWeakPassword
	}
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailInUse
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if in.CPF != "" {
		if _, err := s.users.GetByCPF(ctx, in.CPF); err == nil {
			return nil, ErrCpfInUse
		} else if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}

	plan, err := s.plans.GetBySlug(ctx, tiers.SlugGratuito)
	if err != nil {
		return nil, err
	}
	passwordHash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var user *User
	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		tenant, err := s.createPersonalTenant(ctx, tx, in.Name, plan.ID)
		if err != nil {
			return err
		}
		user = &User{
			TenantID:     tenant.ID,
			Name:         in.Name,
			Email:        in.Email,
			PasswordHash: passwordHash,
			CPF:          in.CPF,
			Phone:        in.Phone,
			Role:         auth.RoleAdmin,
			Status:       UserActive,
			CreatedAt:    s.now().UTC(),
		}
		if err := s.users.Create(ctx, tx, user); err != nil {
			return err
		}
		member := &tenants.Member{
			TenantID:  tenant.ID,
			UserID:    user.ID,
			Email:     user.Email,
			Role:      string(auth.RoleAdmin),
			Status:    tenants.MemberActive,
			InvitedAt: s.now().UTC(),
		}
		if err := s.members.Upsert(ctx, tx, member); err != nil {
			return err
		}
		_, err = s.chain.Append(ctx, tx, audit.Input{
			TenantID:   tenant.ID,
			ActorKind:  audit.ActorUser,
			ActorID:    user.ID,
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Action:     audit.ActionUserCreated,
			IP:         in.IP,
			UserAgent:  in.UserAgent,
			Payload:    map[string]any{"email": user.Email},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	pair, err := s.issue(ctx, user.ID, user.TenantID, auth.RoleAdmin, in.IP, in.UserAgent)
	if err != nil {
		return nil, err
	}
	return &AuthResult{TokenPair: pair, User: user.Sanitized()}, nil
}

func (s *Service) createPersonalTenant(ctx context.Context, tx store.DBTX, name, planID string) (*tenants.Tenant, error) {
	base := tenants.Slugify(name)
	slug := base
	for attempt := 0; attempt < slugAttempts; attempt++ {
		tenant := &tenants.Tenant{
			Name:      name,
			Slug:      slug,
			Status:    tenants.TenantActive,
			PlanID:    planID,
			CreatedAt: s.now().UTC(),
		}
		err := s.tenants.Create(ctx, tx, tenant)
		if err == nil {
			return tenant, nil
		}
		if !errors.Is(err, tenants.ErrSlugTaken) {
			return nil, err
		}
		slug = base + "-" + tenants.SlugSuffix()
	}
	return nil, fmt.Errorf("identity: failed to allocate tenant slug for %q: %w", name, tenants.ErrSlugTaken)
}

// Login verifies the password and issues credentials for the user's
// personal tenant. Wrong email and wrong password are
// indistinguishable.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Status != UserActive || !crypto.CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	role := activeRole(user)
	pair, err := s.issue(ctx, user.ID, user.TenantID, role, ip, userAgent)
	if err != nil {
		return nil, err
	}
	if _, err := s.chain.AppendTx(ctx, audit.Input{
		TenantID:   user.TenantID,
		ActorKind:  audit.ActorUser,
		ActorID:    user.ID,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		Action:     audit.ActionLoginSuccess,
		IP:         ip,
		UserAgent:  userAgent,
	}); err != nil {
		return nil, err
	}
	return &AuthResult{TokenPair: pair, User: user.Sanitized()}, nil
}

// Refresh rotates a refresh credential: the matched session is deleted
// and a fresh pair is issued carrying the tenant embedded in the old
// credential. Each raw token is usable exactly once.
func (s *Service) Refresh(ctx context.Context, rawRefresh, ip, userAgent string) (*AuthResult, error) {
	userID, tenantID, err := s.tokens.VerifyRefresh(rawRefresh)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	session, err := s.sessions.FindMatching(ctx, userID, rawRefresh)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Status != UserActive {
		return nil, ErrSessionInvalid
	}
	role, err := s.roleInTenant(ctx, user, tenantID)
	if err != nil {
		return nil, err
	}
	pair, err := s.issue(ctx, user.ID, tenantID, role, ip, userAgent)
	if err != nil {
		return nil, err
	}
	return &AuthResult{TokenPair: pair, User: user.Sanitized()}, nil
}

// Logout deletes the session matching the raw refresh credential.
// Idempotent: an already-rotated token is not an error.
func (s *Service) Logout(ctx context.Context, userID, rawRefresh string) error {
	session, err := s.sessions.FindMatching(ctx, userID, rawRefresh)
	if err != nil {
		if errors.Is(err, ErrSessionInvalid) {
			return nil
		}
		return err
	}
	return s.sessions.Delete(ctx, session.ID)
}

// roleInTenant resolves the role credentials carry for a tenant: the
// personal tenant grants ADMIN (or SUPER_ADMIN), any other tenant
// requires an active membership.
func (s *Service) roleInTenant(ctx context.Context, user *User, tenantID string) (auth.Role, error) {
	if tenantID == user.TenantID {
		return activeRole(user), nil
	}
	member, err := s.members.FindActive(ctx, user.ID, tenantID)
	if err != nil {
		if errors.Is(err, tenants.ErrMemberNotFound) {
			return "", auth.ErrForbidden
		}
		return "", err
	}
	role := auth.Role(member.Role)
	if !role.Valid() {
		role = auth.RoleViewer
	}
	return role, nil
}

// SwitchTenant issues credentials for another tenant the user belongs
// to. The prior refresh session stays valid; switching is additive.
func (s *Service) SwitchTenant(ctx context.Context, userID, targetTenantID, ip, userAgent string) (*AuthResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	role, err := s.roleInTenant(ctx, user, targetTenantID)
	if err != nil {
		return nil, err
	}
	pair, err := s.issue(ctx, user.ID, targetTenantID, role, ip, userAgent)
	if err != nil {
		return nil, err
	}
	return &AuthResult{TokenPair: pair, User: user.Sanitized()}, nil
}

// RequestPasswordReset mints a reset code and hands it to the notifier.
// An unknown email is a silent no-op so the endpoint cannot be used to
// enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, channel Channel) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	recipient := user.Email
	if channel == ChannelWhatsApp {
		if user.Phone == "" {
			return ErrMissingPhone
		}
		recipient = user.Phone
	}

	code, err := crypto.MintOTP()
	if err != nil {
		return err
	}
	codeHash, err := crypto.HashPassword(code)
	if err != nil {
		return err
	}
	otp := &OTPCode{
		Context:   OTPPasswordReset,
		Recipient: recipient,
		CodeHash:  codeHash,
		ExpiresAt: s.now().UTC().Add(resetOTPTTL),
		CreatedAt: s.now().UTC(),
	}
	if err := s.otps.Create(ctx, otp); err != nil {
		return err
	}

	if s.notifier != nil {
		tenantID := user.TenantID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.notifier.SendPasswordResetCode(ctx, tenantID, channel, recipient, code); err != nil {
				s.logger.Warn("password reset delivery failed", "channel", channel, "error", err)
			}
		}()
	}
	return nil
}

// ResetPassword redeems the most recent reset code for the account and
// replaces the password hash. Code deletion and the password write
// commit together.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < minPassword {
		return ErrWeakPassword
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrOtpExpired
		}
		return err
	}

	otp, err := s.otps.FindLatest(ctx, OTPPasswordReset, []string{user.Email, user.Phone})
	if err != nil {
		return err
	}
	if otp.Expired(s.now().UTC()) {
		return ErrOtpExpired
	}
	if !crypto.CheckPassword(code, otp.CodeHash) {
		_ = s.otps.IncrementAttempts(ctx, otp.ID)
		return ErrOtpInvalid
	}

	passwordHash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.users.UpdatePassword(ctx, tx, user.ID, passwordHash); err != nil {
			return err
		}
		return s.otps.Delete(ctx, tx, otp.ID)
	})
}

// LookupByEmail resolves a registered account for the invite flow.
func (s *Service) LookupByEmail(ctx context.Context, email string) (string, bool, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return user.ID, true, nil
}

// PersonalTenantID returns the tenant the user owns.
func (s *Service) PersonalTenantID(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.TenantID, nil
}

// CreateAdminUser inserts the owner account for a provisioned tenant
// inside tx.
func (s *Service) CreateAdminUser(ctx context.Context, tx store.DBTX, tenantID, name, email, password string) (string, error) {
	if len(password) < minPassword {
		return "", ErrWeakPassword
	}
	passwordHash, err := crypto.HashPassword(password)
	if err != nil {
		return "", err
	}
	user := &User{
		TenantID:     tenantID,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         auth.RoleAdmin,
		Status:       UserActive,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, tx, user); err != nil {
		return "", err
	}
	return user.ID, nil
}

var _ tenants.Directory = (*Service)(nil)
