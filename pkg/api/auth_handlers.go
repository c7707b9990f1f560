package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/identity"
)

// decodeJSON rejects oversized and malformed bodies uniformly.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		CPF      string `json:"cpf"`
		Phone    string `json:"phone"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Name == "" || in.Email == "" {
		WriteMessage(w, http.StatusBadRequest, "name and email are required")
		return
	}
	res, err := s.identitySvc.Register(r.Context(), identity.RegisterInput{
		Name:      in.Name,
		Email:     in.Email,
		Password:  in.Password,
		CPF:       in.CPF,
		Phone:     in.Phone,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	bucket := "login:" + clientIP(r) + ":" + strings.ToLower(in.Email)
	if !s.limiter.Allow(r.Context(), bucket, auth.LoginPolicy) {
		WriteTooManyRequests(w, 30)
		return
	}
	res, err := s.identitySvc.Login(r.Context(), in.Email, in.Password, clientIP(r), r.UserAgent())
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := s.identitySvc.Refresh(r.Context(), in.RefreshToken, clientIP(r), r.UserAgent())
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	p := auth.MustPrincipal(r.Context())
	if err := s.identitySvc.Logout(r.Context(), p.ID, in.RefreshToken); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSwitchTenant(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TargetTenantID string `json:"targetTenantId"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	p := auth.MustPrincipal(r.Context())
	res, err := s.identitySvc.SwitchTenant(r.Context(), p.ID, in.TargetTenantID, clientIP(r), r.UserAgent())
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email   string `json:"email"`
		Channel string `json:"channel"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	bucket := "reset:" + strings.ToLower(in.Email)
	if !s.limiter.Allow(r.Context(), bucket, auth.OTPPolicy) {
		WriteTooManyRequests(w, 60)
		return
	}
	channel := identity.ChannelEmail
	if strings.EqualFold(in.Channel, string(identity.ChannelWhatsApp)) {
		channel = identity.ChannelWhatsApp
	}
	err := s.identitySvc.RequestPasswordReset(r.Context(), in.Email, channel)
	if err != nil && !errors.Is(err, identity.ErrMissingPhone) {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	// unknown addresses get the same answer as known ones
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email"`
		OTP         string `json:"otp"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	bucket := "reset-verify:" + strings.ToLower(in.Email)
	if !s.limiter.Allow(r.Context(), bucket, auth.OTPPolicy) {
		WriteTooManyRequests(w, 60)
		return
	}
	if err := s.identitySvc.ResetPassword(r.Context(), in.Email, in.OTP, in.NewPassword); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
