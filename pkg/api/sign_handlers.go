package api

import (
	"net/http"

	"github.com/assinado-app/assinado/pkg/signers"
	"github.com/assinado-app/assinado/pkg/signing"
)

// mustSession pulls the session attached by resolveShare.
func mustSession(r *http.Request) *signers.Session {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		panic("api: sign handler reached without resolveShare middleware")
	}
	return sess
}

func (s *Server) handleSignSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.signerSvc.Summary(r.Context(), mustSession(r), clientIP(r), r.UserAgent())
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSignIdentify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CPF   string `json:"cpf"`
		Phone string `json:"phone"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := s.signerSvc.Identify(r.Context(), mustSession(r), in.CPF, in.Phone); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignOtpStart(w http.ResponseWriter, r *http.Request) {
	if err := s.signerSvc.StartOTP(r.Context(), mustSession(r), clientIP(r), r.UserAgent()); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleSignOtpVerify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OTP string `json:"otp"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := s.signerSvc.VerifyOTP(r.Context(), mustSession(r), in.OTP, clientIP(r), r.UserAgent()); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (s *Server) handleSignPosition(w http.ResponseWriter, r *http.Request) {
	var in struct {
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
		Page int     `json:"page"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := s.signerSvc.SavePosition(r.Context(), mustSession(r), in.X, in.Y, in.Page); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignArt(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Art string `json:"art"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := s.signerSvc.ConfirmArt(r.Context(), mustSession(r), in.Art); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignCommit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClientFingerprint string `json:"clientFingerprint"`
		SignatureImage    string `json:"signatureImage"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	sess := mustSession(r)
	result, err := s.signingSvc.Commit(r.Context(), sess.Document, sess.Signer, signing.CommitInput{
		ClientFingerprint: in.ClientFingerprint,
		SignatureImage:    in.SignatureImage,
		IP:                clientIP(r),
		UserAgent:         r.UserAgent(),
	})
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
