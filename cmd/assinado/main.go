// Command assinado runs the document signing API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/assinado-app/assinado/pkg/api"
	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/blob"
	"github.com/assinado-app/assinado/pkg/config"
	"github.com/assinado-app/assinado/pkg/documents"
	"github.com/assinado-app/assinado/pkg/identity"
	"github.com/assinado-app/assinado/pkg/notify"
	"github.com/assinado-app/assinado/pkg/observability"
	"github.com/assinado-app/assinado/pkg/quota"
	"github.com/assinado-app/assinado/pkg/reminders"
	"github.com/assinado-app/assinado/pkg/signers"
	"github.com/assinado-app/assinado/pkg/signing"
	"github.com/assinado-app/assinado/pkg/stamp"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "assinado:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("database connected", "dialect", db.Dialect.String())

	// Stores.
	users := identity.NewUserStore(db)
	sessions := identity.NewSessionStore(db)
	otps := identity.NewOTPStore(db)
	tenantStore := tenants.NewTenantStore(db)
	memberStore := tenants.NewMemberStore(db)
	settingsStore := tenants.NewSettingsStore(db)
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
	if err := planStore.Seed(ctx); err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "assinado",
		OTLPEndpoint: cfg.OtelEndpoint,
		Enabled:      cfg.OtelEnabled,
		Insecure:     true,
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()
		logger.Info("distributed rate limiting enabled")
	} else {
		logger.Warn("REDIS_URL not set; login and OTP rate limiting is disabled")
	}
	limiter := auth.NewLimiter(redisClient)

	blobs, err := blob.NewStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("blob storage: %w", err)
	}
	logger.Info("blob storage ready", "backend", cfg.BlobBackend)

	var stamper stamp.Stamper = stamp.NewStaticStamper()
	if cfg.StamperURL != "" {
		stamper = stamp.NewHTTPStamper(cfg.StamperURL)
		logger.Info("using external stamper", "url", cfg.StamperURL)
	}

	// Without delivery credentials the notifier ports stay nil and the
	// services skip delivery instead of erroring.
	var sender notify.Sender = notify.NoopSender{}
	var resetNotifier identity.ResetNotifier
	var inviteNotifier tenants.InviteNotifier
	if cfg.ResendAPIKey != "" || cfg.ZapiToken != "" {
		svc := notify.NewService(cfg, settingsStore, logger)
		sender, resetNotifier, inviteNotifier = svc, svc, svc
	} else {
		logger.Warn("no notification credentials configured; deliveries are dropped")
	}

	chain := audit.NewChain(db, logger)
	gate := quota.NewGate(users, memberStore, docs)
	tm := identity.NewTokenManager(cfg.JWTSecret, cfg.JWTRefreshSecret,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	identitySvc := identity.NewService(db, users, sessions, otps, tm,
		tenantStore, memberStore, planStore, chain, resetNotifier, logger)
	tenantSvc := tenants.NewService(db, tenantStore, memberStore, settingsStore,
		planStore, identitySvc, gate, inviteNotifier, chain, logger, cfg.FrontURL)
	signerSvc := signers.NewService(db, signerStore, tokenStore, docs, blobs,
		otps, chain, sender, logger, cfg.FrontURL)
	docSvc := documents.NewService(db, docs, folders, blobs, gate,
		tenantStore, planStore, chain, signerSvc, users, logger)
	signingSvc := signing.NewService(db, docs, signerStore, certs, blobs,
		stamper, chain, sender, settingsStore, users, obs, logger, cfg.FrontURL)

	scheduler := reminders.NewScheduler(docs, docSvc, signerSvc, logger)
	go scheduler.Loop(ctx, cfg.SchedulerPeriod)

	server := api.NewServer(db, identitySvc, tenantSvc, docSvc, signerSvc, signerStore,
		signingSvc, audits, planStore, tm, users, limiter, obs, logger,
		api.WithMaxUploadBytes(cfg.MaxUploadBytes))

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logger.Info("server listening", "port", cfg.Port)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown failed", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
