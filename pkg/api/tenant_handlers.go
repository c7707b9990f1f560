package api

import (
	"net/http"

	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/tenants"
)

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name          string `json:"name"`
		AdminName     string `json:"adminName"`
		AdminEmail    string `json:"adminEmail"`
		AdminPassword string `json:"adminPassword"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Name == "" {
		WriteMessage(w, http.StatusBadRequest, "name is required")
		return
	}
	p := auth.MustPrincipal(r.Context())
	tenant, err := s.tenantSvc.CreateTenantWithAdmin(r.Context(), p, tenants.CreateTenantInput{
		Name:          in.Name,
		AdminName:     in.AdminName,
		AdminEmail:    in.AdminEmail,
		AdminPassword: in.AdminPassword,
	})
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handleMyTenant(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	details, err := s.tenantSvc.GetMyTenant(r.Context(), p)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

func (s *Server) handleAvailableTenants(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	summaries, err := s.tenantSvc.ListMyTenants(r.Context(), p.ID)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Email == "" || in.Role == "" {
		WriteMessage(w, http.StatusBadRequest, "email and role are required")
		return
	}
	p := auth.MustPrincipal(r.Context())
	member, err := s.tenantSvc.InviteMember(r.Context(), p, in.Email, in.Role)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, member)
}

func (s *Server) handleRespondInvite(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Accept bool `json:"accept"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	p := auth.MustPrincipal(r.Context())
	member, err := s.tenantSvc.RespondInvite(r.Context(), p.ID, p.Email, r.PathValue("id"), in.Accept)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	settings, err := s.tenantSvc.GetSettings(r.Context(), p.TenantID)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var in tenants.Settings
	if !decodeJSON(w, r, &in) {
		return
	}
	p := auth.MustPrincipal(r.Context())
	settings, err := s.tenantSvc.UpdateSettings(r.Context(), p.TenantID, &in)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}
