package handler

import (
	"encoding/json"
	"net/http"

	"github.com/manurov/card-service/internal/models"
)

type createBlockRequestBody struct {
	Reason string `json:"reason"`
}

// CreateBlockRequest files a block request for one of the caller's cards.
func (h *Handler) CreateBlockRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	cardID, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid card id")
		return
	}
	var body createBlockRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	reason, err := models.ParseBlockReason(body.Reason)
	if err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	req, err := h.blocks.Create(r.Context(), c, cardID, reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

// GetBlockRequest returns one block request to its author or an admin.
func (h *Handler) GetBlockRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid block request id")
		return
	}
	req, err := h.blocks.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !c.IsAdmin() && req.UserID != c.UserID {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// ListMyBlockRequests returns the caller's block requests.
func (h *Handler) ListMyBlockRequests(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	reqs, err := h.blocks.GetUserRequests(r.Context(), c.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

// ListBlockRequestsByStatus returns block requests filtered by ?status=,
// defaulting to PENDING. Admin only.
func (h *Handler) ListBlockRequestsByStatus(w http.ResponseWriter, r *http.Request) {
	status := models.RequestStatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		var err error
		status, err = models.ParseRequestStatus(raw)
		if err != nil {
			respondBadRequest(w, err.Error())
			return
		}
	}
	reqs, err := h.blocks.GetByStatus(r.Context(), status)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

type adminCommentBody struct {
	Comment string `json:"comment"`
}

// ApproveBlockRequest approves a PENDING block request and blocks the
// card. Admin only.
func (h *Handler) ApproveBlockRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid block request id")
		return
	}
	var body adminCommentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	req, err := h.blocks.Approve(r.Context(), id, body.Comment)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// RejectBlockRequest rejects a PENDING block request. Admin only.
func (h *Handler) RejectBlockRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid block request id")
		return
	}
	var body adminCommentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	req, err := h.blocks.Reject(r.Context(), id, body.Comment)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// CancelBlockRequest withdraws the caller's own PENDING block request.
func (h *Handler) CancelBlockRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid block request id")
		return
	}
	if err := h.blocks.Cancel(r.Context(), id, c.UserID); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
