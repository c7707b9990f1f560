// Command bootstrap prepares a database for first use: it creates every
// schema, seeds the plan catalog, and provisions the initial super
// admin from DEFAULT_ADMIN_EMAIL / DEFAULT_ADMIN_PASSWORD.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/config"
	"github.com/assinado-app/assinado/pkg/crypto"
	"github.com/assinado-app/assinado/pkg/documents"
	"github.com/assinado-app/assinado/pkg/identity"
	"github.com/assinado-app/assinado/pkg/signers"
	"github.com/assinado-app/assinado/pkg/signing"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(context.Background(), logger); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg := config.Load()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("connected", "dialect", db.Dialect.String())

	users := identity.NewUserStore(db)
	sessions := identity.NewSessionStore(db)
	otps := identity.NewOTPStore(db)
	tenantStore := tenants.NewTenantStore(db)
	settingsStore := tenants.NewSettingsStore(db)
	memberStore := tenants.NewMemberStore(db)
	planStore := tiers.NewStore(db)
	audits := audit.NewStore(db)
	docs := documents.NewStore(db)
	folders := documents.NewFolderStore(db)
	signerStore := signers.NewStore(db)
	tokenStore := signers.NewTokenStore(db)
	certs := signing.NewCertificateStore(db)

	for _, init := range []func(context.Context) error{
		users.Init, sessions.Init, otps.Init, tenantStore.Init, settingsStore.Init,
		planStore.Init, audits.Init, docs.Init, folders.Init,
		signerStore.Init, tokenStore.Init, certs.Init,
	} {
		if err := init(ctx); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	logger.Info("schemas ready")

	if err := planStore.Seed(ctx); err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}
	logger.Info("plan catalog seeded")

	if cfg.DefaultAdminEmail == "" || cfg.DefaultAdminPassword == "" {
		logger.Info("DEFAULT_ADMIN_EMAIL not set; skipping super admin")
		return nil
	}
	return ensureSuperAdmin(ctx, db, users, tenantStore, memberStore, planStore,
		audit.NewChain(db, logger), cfg, logger)
}

// ensureSuperAdmin is idempotent: an existing user with the configured
// email short-circuits, so re-running bootstrap never duplicates it.
// The configured password is hashed and never logged.
func ensureSuperAdmin(ctx context.Context, db *store.DB, users *identity.UserStore,
	tenantStore *tenants.TenantStore, memberStore *tenants.MemberStore,
	planStore *tiers.Store, chain *audit.Chain, cfg *config.Config, logger *slog.Logger) error {

	if _, err := users.GetByEmail(ctx, cfg.DefaultAdminEmail); err == nil {
		logger.Info("super admin already present", "email", cfg.DefaultAdminEmail)
		return nil
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return err
	}

	plan, err := planStore.GetBySlug(ctx, tiers.SlugGratuito)
	if err != nil {
		return err
	}
	passwordHash, err := crypto.HashPassword(cfg.DefaultAdminPassword)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = store.WithTx(ctx, db, func(tx *sql.Tx) error {
		tenant := &tenants.Tenant{
			Name:      "Administração",
			Slug:      "administracao-" + tenants.SlugSuffix(),
			Status:    tenants.TenantActive,
			PlanID:    plan.ID,
			CreatedAt: now,
		}
		if err := tenantStore.Create(ctx, tx, tenant); err != nil {
			return err
		}
		user := &identity.User{
			TenantID:     tenant.ID,
			Name:         "Administrador",
			Email:        cfg.DefaultAdminEmail,
			PasswordHash: passwordHash,
			Role:         auth.RoleSuperAdmin,
			Status:       identity.UserActive,
			CreatedAt:    now,
		}
		if err := users.Create(ctx, tx, user); err != nil {
			return err
		}
		member := &tenants.Member{
			TenantID:  tenant.ID,
			UserID:    user.ID,
			Email:     user.Email,
			Role:      string(auth.RoleSuperAdmin),
			Status:    tenants.MemberActive,
			InvitedAt: now,
		}
		if err := memberStore.Upsert(ctx, tx, member); err != nil {
			return err
		}
		_, err := chain.Append(ctx, tx, audit.Input{
			TenantID:   tenant.ID,
			ActorKind:  audit.ActorSystem,
			ActorID:    "bootstrap",
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Action:     audit.ActionUserCreated,
			Payload:    map[string]any{"email": user.Email},
		})
		return err
	})
	if err != nil {
		return err
	}
	logger.Info("super admin provisioned", "email", cfg.DefaultAdminEmail)
	return nil
}
