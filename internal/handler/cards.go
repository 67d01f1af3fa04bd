package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/manurov/card-service/internal/models"
)

// ListMyCards returns the caller's cards. ?active=true narrows the list
// to ACTIVE ones.
func (h *Handler) ListMyCards(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	views, err := h.cards.GetUserCards(r.Context(), c.UserID, activeOnly)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

// GetCard returns a single card view to its owner or an admin.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid card id")
		return
	}
	view, err := h.cards.GetCard(r.Context(), id, c)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// ListAllCards returns every card. Admin only.
func (h *Handler) ListAllCards(w http.ResponseWriter, r *http.Request) {
	views, err := h.cards.GetAllCards(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

type createCardRequest struct {
	OwnerID  int64  `json:"owner_id"`
	CardType string `json:"card_type"`
}

// CreateCard issues a card directly, bypassing the application workflow.
// Admin only.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	cardType, err := models.ParseCardType(req.CardType)
	if err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	card, err := h.cards.CreateCard(r.Context(), req.OwnerID, cardType)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, card)
}

// ToggleCard flips a card between ACTIVE and BLOCKED. Admin only.
func (h *Handler) ToggleCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid card id")
		return
	}
	if err := h.cards.Toggle(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TopUpCard credits a card from outside the ledger. Admin only.
func (h *Handler) TopUpCard(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid card id")
		return
	}
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	txnID, err := h.transfers.TopUp(r.Context(), c, id, req.Amount)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"transaction_id": txnID})
}

const defaultTransactionLimit = 10

// ListCardTransactions returns a card's recent transactions, the last 10
// unless ?limit=N asks for more (0 returns the full history).
func (h *Handler) ListCardTransactions(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid card id")
		return
	}
	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondBadRequest(w, "invalid limit")
			return
		}
	}
	txns, err := h.transfers.GetCardTransactions(r.Context(), id, c, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txns)
}
