package handler

import (
	"encoding/json"
	"net/http"

	"github.com/manurov/card-service/internal/models"
)

type submitApplicationRequest struct {
	CardType string `json:"card_type"`
	Comment  string `json:"comment"`
}

// SubmitApplication files a new card application for the caller.
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	var req submitApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	cardType, err := models.ParseCardType(req.CardType)
	if err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	app, err := h.apps.Submit(r.Context(), c.UserID, cardType, req.Comment)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, app)
}

// ListMyApplications returns the caller's applications.
func (h *Handler) ListMyApplications(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	apps, err := h.apps.GetUserApplications(r.Context(), c.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, apps)
}

// ListApplicationsByStatus returns applications filtered by ?status=,
// defaulting to PENDING. Admin only.
func (h *Handler) ListApplicationsByStatus(w http.ResponseWriter, r *http.Request) {
	status := models.RequestStatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		var err error
		status, err = models.ParseRequestStatus(raw)
		if err != nil {
			respondBadRequest(w, err.Error())
			return
		}
	}
	apps, err := h.apps.GetApplicationsByStatus(r.Context(), status)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, apps)
}

// ApproveApplication approves a PENDING application and issues the card.
// Admin only.
func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid application id")
		return
	}
	card, err := h.apps.Approve(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, card)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectApplication rejects a PENDING application. Admin only.
func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid application id")
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if err := h.apps.Reject(r.Context(), id, req.Reason); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CancelApplication withdraws the caller's own PENDING application.
func (h *Handler) CancelApplication(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid application id")
		return
	}
	if err := h.apps.Cancel(r.Context(), id, c.UserID); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
