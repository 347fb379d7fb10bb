package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/conversation"
	"github.com/TURRA7/BotShop/internal/messaging"
	"github.com/TURRA7/BotShop/internal/service"
)

// Handler handles HTTP requests for the application.
type Handler struct {
	shop      service.Shop
	engine    *conversation.Engine
	confirmer service.Confirmer
	auth      *Authenticator
}

func NewHandler(shop service.Shop, engine *conversation.Engine, confirmer service.Confirmer, auth *Authenticator) *Handler {
	return &Handler{
		shop:      shop,
		engine:    engine,
		confirmer: confirmer,
		auth:      auth,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.handleGetProducts)
	mux.HandleFunc("GET /api/users/{id}/orders", h.requireUser(h.handleGetOrders))
	mux.HandleFunc("POST /api/users/{id}/dialog", h.requireUser(h.handleStartDialog))
	mux.HandleFunc("POST /api/users/{id}/dialog/input", h.requireUser(h.handleDialogInput))
	mux.HandleFunc("DELETE /api/users/{id}/dialog", h.requireUser(h.handleCancelDialog))
	mux.HandleFunc("POST /api/payments/notifications", h.handlePaymentNotification)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.shop.Catalog.ListProducts(r.Context())
	if err != nil {
		slog.Error("Failed to get products", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	orders, err := h.shop.Settlement.ListOrders(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to get orders", "user_id", userID, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

type notificationResponse struct {
	IntentID         string `json:"intent_id"`
	Status           string `json:"status"`
	AlreadyProcessed bool   `json:"already_processed"`
}

// handlePaymentNotification receives gateway webhooks. The body only names the payment;
// its status is always re-read from the gateway.
func (h *Handler) handlePaymentNotification(w http.ResponseWriter, r *http.Request) {
	var n messaging.Notification
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&n); err != nil || strings.TrimSpace(n.Object.ID) == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.confirmer.ConfirmCardCheckout(r.Context(), n.Object.ID)
	if err != nil {
		switch apperr.CodeOf(err) {
		case apperr.NotFound:
			http.Error(w, "unknown payment", http.StatusNotFound)
		case apperr.ProviderError, apperr.Conflict:
			slog.Warn("Payment notification deferred", "intent_id", n.Object.ID, "err", err)
			http.Error(w, "payment provider unavailable", http.StatusBadGateway)
		default:
			slog.Error("Failed to confirm payment", "intent_id", n.Object.ID, "err", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, notificationResponse{
		IntentID:         res.IntentID,
		Status:           string(res.Status),
		AlreadyProcessed: res.AlreadyProcessed,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

// EnableCORS is a middleware to allow browser dashboards to read the public catalog.
// Per-user routes never get CORS headers.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/users/") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
