package api

import (
	"net/http"
)

// The catalog doubles as the public pricing page.
func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, plans)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name          *string   `json:"name"`
		PriceCents    *int64    `json:"priceCents"`
		UserLimit     *int      `json:"userLimit"`
		DocumentLimit *int      `json:"documentLimit"`
		Features      *[]string `json:"features"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	plan, err := s.plans.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	if in.Name != nil {
		plan.Name = *in.Name
	}
	if in.PriceCents != nil {
		plan.PriceCents = *in.PriceCents
	}
	if in.UserLimit != nil {
		plan.UserLimit = *in.UserLimit
	}
	if in.DocumentLimit != nil {
		plan.DocumentLimit = *in.DocumentLimit
	}
	if in.Features != nil {
		plan.Features = *in.Features
	}
	if plan.UserLimit < 1 || plan.DocumentLimit < 1 || plan.PriceCents < 0 {
		WriteMessage(w, http.StatusBadRequest, "plan limits must be positive")
		return
	}
	if err := s.plans.Upsert(r.Context(), plan); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, plan)
}
