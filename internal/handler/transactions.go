package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type transferRequest struct {
	FromCardID  int64           `json:"from_card_id"`
	ToCardID    int64           `json:"to_card_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Transfer moves money between two of the caller's cards.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	txnID, err := h.transfers.Transfer(r.Context(), c, req.FromCardID, req.ToCardID, req.Amount, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"transaction_id": txnID})
}

// GetTransaction returns one transaction to a participant or an admin.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid transaction id")
		return
	}
	txn, err := h.transfers.GetTransaction(r.Context(), id, c)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txn)
}

// ListMyTransactions returns all transactions touching the caller's cards.
func (h *Handler) ListMyTransactions(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	txns, err := h.transfers.GetUserTransactions(r.Context(), c.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txns)
}

// TransactionStats returns the caller's current-month transaction count
// and the all-time total sent from their cards.
func (h *Handler) TransactionStats(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	count, err := h.transfers.MonthlyTransactionCount(r.Context(), c.UserID, time.Now().UTC())
	if err != nil {
		h.respondError(w, err)
		return
	}
	total, err := h.transfers.TotalTransferred(r.Context(), c.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"monthly_count":     count,
		"total_transferred": total,
	})
}

// RefundTransaction reverses a successful transfer. Admin only.
func (h *Handler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondBadRequest(w, "invalid transaction id")
		return
	}
	txn, err := h.transfers.Refund(r.Context(), id, c)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txn)
}
