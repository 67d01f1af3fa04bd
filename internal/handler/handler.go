package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/manurov/card-service/internal/auth"
	"github.com/manurov/card-service/internal/middleware"
	"github.com/manurov/card-service/internal/service"
)

// Handler exposes the card engine over HTTP. It is a thin adapter: every
// route decodes input, resolves the caller and delegates to a service.
type Handler struct {
	cards     *service.CardService
	apps      *service.ApplicationService
	blocks    *service.BlockRequestService
	transfers *service.TransferService
	log       *logrus.Logger
}

// NewHandler wires the HTTP layer to the services.
func NewHandler(cards *service.CardService, apps *service.ApplicationService,
	blocks *service.BlockRequestService, transfers *service.TransferService, log *logrus.Logger) *Handler {
	return &Handler{cards: cards, apps: apps, blocks: blocks, transfers: transfers, log: log}
}

// Router builds the route table. All routes require a valid token; the
// /admin subtree additionally requires the admin role.
func (h *Handler) Router(jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	api := r.PathPrefix("/").Subrouter()
	api.Use(middleware.Authenticate(jwtSecret, h.log))

	api.HandleFunc("/cards", h.ListMyCards).Methods("GET")
	api.HandleFunc("/cards/{id:[0-9]+}", h.GetCard).Methods("GET")
	api.HandleFunc("/cards/{id:[0-9]+}/transactions", h.ListCardTransactions).Methods("GET")
	api.HandleFunc("/cards/{id:[0-9]+}/block-requests", h.CreateBlockRequest).Methods("POST")

	api.HandleFunc("/applications", h.SubmitApplication).Methods("POST")
	api.HandleFunc("/applications", h.ListMyApplications).Methods("GET")
	api.HandleFunc("/applications/{id:[0-9]+}/cancel", h.CancelApplication).Methods("POST")

	api.HandleFunc("/block-requests", h.ListMyBlockRequests).Methods("GET")
	api.HandleFunc("/block-requests/{id:[0-9]+}", h.GetBlockRequest).Methods("GET")
	api.HandleFunc("/block-requests/{id:[0-9]+}/cancel", h.CancelBlockRequest).Methods("POST")

	api.HandleFunc("/transfers", h.Transfer).Methods("POST")
	api.HandleFunc("/transactions", h.ListMyTransactions).Methods("GET")
	api.HandleFunc("/transactions/stats", h.TransactionStats).Methods("GET")
	api.HandleFunc("/transactions/{id:[0-9]+}", h.GetTransaction).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin(h.log))

	admin.HandleFunc("/cards", h.ListAllCards).Methods("GET")
	admin.HandleFunc("/cards", h.CreateCard).Methods("POST")
	admin.HandleFunc("/cards/{id:[0-9]+}/toggle", h.ToggleCard).Methods("POST")
	admin.HandleFunc("/cards/{id:[0-9]+}/topup", h.TopUpCard).Methods("POST")

	admin.HandleFunc("/applications", h.ListApplicationsByStatus).Methods("GET")
	admin.HandleFunc("/applications/{id:[0-9]+}/approve", h.ApproveApplication).Methods("POST")
	admin.HandleFunc("/applications/{id:[0-9]+}/reject", h.RejectApplication).Methods("POST")

	admin.HandleFunc("/block-requests", h.ListBlockRequestsByStatus).Methods("GET")
	admin.HandleFunc("/block-requests/{id:[0-9]+}/approve", h.ApproveBlockRequest).Methods("POST")
	admin.HandleFunc("/block-requests/{id:[0-9]+}/reject", h.RejectBlockRequest).Methods("POST")

	admin.HandleFunc("/transactions/{id:[0-9]+}/refund", h.RefundTransaction).Methods("POST")

	return r
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// respondError maps service errors onto HTTP statuses, keeping the
// human-readable reason in the body.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrOwnerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyProcessed),
		errors.Is(err, service.ErrAlreadyBlocked),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrInvalidBlockRequest),
		errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrCardBlocked),
		errors.Is(err, service.ErrCardExpired):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Errorf("Request failed: %v", err)
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func caller(r *http.Request) (auth.Caller, bool) {
	return auth.FromContext(r.Context())
}
