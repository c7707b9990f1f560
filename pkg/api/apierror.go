// Package api is the HTTP surface: routing, middleware and the thin
// handlers that translate between JSON and the services.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/documents"
	"github.com/assinado-app/assinado/pkg/identity"
	"github.com/assinado-app/assinado/pkg/quota"
	"github.com/assinado-app/assinado/pkg/signers"
	"github.com/assinado-app/assinado/pkg/signing"
	"github.com/assinado-app/assinado/pkg/tenants"
	"github.com/assinado-app/assinado/pkg/tiers"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Message string `json:"message"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMessage emits the `{"message": ...}` error shape.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorBody{Message: message})
}

// statusFor maps a service error onto an HTTP status. Cross-tenant
// reads surface as 404, never 403, so document ids do not leak.
func statusFor(err error) int {
	switch {
	case errors.Is(err, documents.ErrDocumentNotFound),
		errors.Is(err, documents.ErrFolderNotFound),
		errors.Is(err, tenants.ErrTenantNotFound),
		errors.Is(err, tenants.ErrMemberNotFound),
		errors.Is(err, identity.ErrUserNotFound),
		errors.Is(err, signers.ErrSignerNotFound),
		errors.Is(err, signers.ErrInvalidLink),
		errors.Is(err, signing.ErrCertificateNotFound),
		errors.Is(err, tiers.ErrPlanNotFound):
		return http.StatusNotFound

	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrSessionInvalid):
		return http.StatusUnauthorized

	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, quota.ErrUserLimit),
		errors.Is(err, quota.ErrDocumentLimit),
		errors.Is(err, signers.ErrExpiredLink),
		errors.Is(err, signers.ErrLinkClosed),
		errors.Is(err, signing.ErrSignerClosed),
		errors.Is(err, signing.ErrDocumentClosed):
		return http.StatusForbidden

	// An irregular subscription is a conflict with the tenant's billing
	// state, not a permission failure; plan-limit hits stay 403.
	case errors.Is(err, identity.ErrEmailInUse),
		errors.Is(err, identity.ErrCpfInUse),
		errors.Is(err, quota.ErrSubscriptionIrregular),
		errors.Is(err, tenants.ErrSlugTaken),
		errors.Is(err, tenants.ErrAlreadyMember),
		errors.Is(err, documents.ErrInvalidTransition),
		errors.Is(err, signers.ErrDocumentNotPending):
		return http.StatusConflict

	case errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrOtpExpired),
		errors.Is(err, identity.ErrOtpInvalid),
		errors.Is(err, identity.ErrMissingPhone),
		errors.Is(err, tenants.ErrUserNotRegistered),
		errors.Is(err, documents.ErrEmptyFile),
		errors.Is(err, documents.ErrFolderCycle),
		errors.Is(err, signers.ErrNoSigners),
		errors.Is(err, signers.ErrMissingContact),
		errors.Is(err, signers.ErrInvalidCpf),
		errors.Is(err, signers.ErrNoRecipient),
		errors.Is(err, signers.ErrInvalidPosition),
		errors.Is(err, signing.ErrMissingImage),
		errors.Is(err, signing.ErrBadImage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// WriteServiceError maps err onto the taxonomy. Internal errors are
// logged with their cause but reach the client as a generic message.
func WriteServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"requestId", auth.GetRequestID(r.Context()), "error", err)
		WriteMessage(w, status, "An unexpected error occurred")
		return
	}
	WriteMessage(w, status, err.Error())
}

// WriteTooManyRequests emits 429 with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteMessage(w, http.StatusTooManyRequests, "Too many requests, slow down")
}
