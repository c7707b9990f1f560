package api

import (
	"log/slog"
	"net/http"

	"github.com/assinado-app/assinado/pkg/audit"
	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/documents"
	"github.com/assinado-app/assinado/pkg/identity"
	"github.com/assinado-app/assinado/pkg/observability"
	"github.com/assinado-app/assinado/pkg/signers"
	"github.com/assinado-app/assinado/pkg/signing"
	"github.com/assinado-app/assinado/pkg/store"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

const defaultMaxUploadBytes = 25 << 20

// Server wires the services into the HTTP surface.
type Server struct {
	db          *store.DB
	identitySvc *identity.Service
	tenantSvc   *tenants.Service
	docSvc      *documents.Service
	signerSvc   *signers.Service
	signerStore *signers.Store
	signingSvc  *signing.Service
	audits      *audit.Store
	plans       *tiers.Store
	verifier    *audit.Verifier
	tokens      auth.TokenVerifier
	users       auth.UserLoader
	limiter     *auth.Limiter
	obs         *observability.Provider
	logger      *slog.Logger

	maxUploadBytes int64
}

// ServerOption tweaks construction.
type ServerOption func(*Server)

// WithMaxUploadBytes caps multipart request bodies.
func WithMaxUploadBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func NewServer(db *store.DB, identitySvc *identity.Service, tenantSvc *tenants.Service,
	docSvc *documents.Service, signerSvc *signers.Service, signerStore *signers.Store,
	signingSvc *signing.Service, audits *audit.Store, plans *tiers.Store, tokens auth.TokenVerifier,
	users auth.UserLoader, limiter *auth.Limiter, obs *observability.Provider,
	logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		db:             db,
		identitySvc:    identitySvc,
		tenantSvc:      tenantSvc,
		docSvc:         docSvc,
		signerSvc:      signerSvc,
		signerStore:    signerStore,
		signingSvc:     signingSvc,
		audits:         audits,
		plans:          plans,
		verifier:       audit.NewVerifier(audits),
		tokens:         tokens,
		users:          users,
		limiter:        limiter,
		obs:            obs,
		logger:         logger,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler assembles the full route table. Method patterns rely on the
// 1.22 ServeMux; cross-tenant misses come back as 404 from the stores.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/readyz", s.handleReadyz)

	// Public auth surface.
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", s.handleResetPassword)

	// Public document validator.
	mux.HandleFunc("POST /api/documents/validate-file", s.handleValidateFile)

	// Plan catalog: listing is public, edits are super-admin only.
	mux.HandleFunc("GET /api/plans", s.handleListPlans)

	// Signer surface: the share link is the credential.
	sign := func(h http.HandlerFunc) http.Handler { return s.resolveShare(h) }
	mux.Handle("GET /api/sign/{token}", sign(s.handleSignSummary))
	mux.Handle("POST /api/sign/{token}/identify", sign(s.handleSignIdentify))
	mux.Handle("POST /api/sign/{token}/otp/start", sign(s.handleSignOtpStart))
	mux.Handle("POST /api/sign/{token}/otp/verify", sign(s.handleSignOtpVerify))
	mux.Handle("POST /api/sign/{token}/position", sign(s.handleSignPosition))
	mux.Handle("POST /api/sign/{token}/art", sign(s.handleSignArt))
	mux.Handle("POST /api/sign/{token}/commit", sign(s.handleSignCommit))

	// Authenticated surface.
	authn := auth.Authenticate(s.tokens, s.users)
	protected := func(h http.HandlerFunc, roles ...auth.Role) http.Handler {
		var handler http.Handler = h
		if len(roles) > 0 {
			handler = auth.RequireRoles(handler, roles...)
		}
		return authn(handler)
	}
	readers := []auth.Role{auth.RoleAdmin, auth.RoleManager, auth.RoleViewer}
	writers := []auth.Role{auth.RoleAdmin, auth.RoleManager}

	mux.Handle("PUT /api/plans/{slug}", protected(s.handleUpdatePlan, auth.RoleSuperAdmin))

	mux.Handle("POST /api/auth/logout", protected(s.handleLogout))
	mux.Handle("POST /api/auth/switch-tenant", protected(s.handleSwitchTenant))

	mux.Handle("POST /api/tenants", protected(s.handleCreateTenant))
	mux.Handle("GET /api/tenants/my", protected(s.handleMyTenant))
	mux.Handle("GET /api/tenants/available", protected(s.handleAvailableTenants))
	mux.Handle("POST /api/tenants/invite", protected(s.handleInviteMember, auth.RoleAdmin))
	mux.Handle("POST /api/tenants/invites/{id}/respond", protected(s.handleRespondInvite))
	mux.Handle("GET /api/tenants/settings", protected(s.handleGetSettings, auth.RoleAdmin))
	mux.Handle("PUT /api/tenants/settings", protected(s.handleUpdateSettings, auth.RoleAdmin))

	mux.Handle("POST /api/documents", protected(s.handleUpload, writers...))
	mux.Handle("GET /api/documents", protected(s.handleListDocuments, readers...))
	mux.Handle("GET /api/documents/stats", protected(s.handleDocumentStats, readers...))
	mux.Handle("GET /api/documents/{id}", protected(s.handleGetDocument, readers...))
	mux.Handle("POST /api/documents/{id}/invite", protected(s.handleInviteSigners, writers...))
	mux.Handle("POST /api/documents/{id}/cancel", protected(s.handleCancelDocument, writers...))
	mux.Handle("POST /api/documents/{id}/expire", protected(s.handleExpireDocument, writers...))
	mux.Handle("GET /api/documents/{id}/audit", protected(s.handleDocumentAudit, readers...))
	mux.Handle("GET /api/documents/{id}/verify-chain", protected(s.handleVerifyChain, readers...))
	mux.Handle("GET /api/documents/{id}/download", protected(s.handleDownload, readers...))
	mux.Handle("GET /api/documents/{id}/certificate", protected(s.handleCertificate, readers...))

	mux.Handle("POST /api/folders", protected(s.handleCreateFolder, writers...))
	mux.Handle("GET /api/folders", protected(s.handleListFolders, readers...))
	mux.Handle("PATCH /api/folders/{id}", protected(s.handleUpdateFolder, writers...))
	mux.Handle("DELETE /api/folders/{id}", protected(s.handleDeleteFolder, writers...))

	var handler http.Handler = mux
	handler = RequestLogger(s.logger, s.obs)(handler)
	handler = NewIPRateLimiter(50, 100).Middleware(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)
	handler = Recoverer(s.logger)(handler)
	return handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		WriteMessage(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
