package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/conversation"
)

type startDialogRequest struct {
	Flow string `json:"flow"`
}

type dialogInputRequest struct {
	Text     string `json:"text"`
	ImageRef string `json:"image_ref"`
}

type dialogReply struct {
	Text     string `json:"text"`
	Done     bool   `json:"done"`
	Rejected bool   `json:"rejected"`
}

type errorResponse struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func (h *Handler) handleStartDialog(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var req startDialogRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil || req.Flow == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := h.shop.Users.EnsureUser(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	reply, err := h.engine.Start(r.Context(), userID, req.Flow)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dialogReply{Text: reply.Text})
}

func (h *Handler) handleDialogInput(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var req dialogInputRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reply, err := h.engine.Submit(r.Context(), userID, conversation.Input{Text: req.Text, ImageRef: req.ImageRef})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dialogReply{Text: reply.Text, Done: reply.Done, Rejected: reply.Rejected})
}

func (h *Handler) handleCancelDialog(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Cancel(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.Internal {
		slog.Error("Request failed", "err", err)
	}
	writeJSON(w, statusOf(code), errorResponse{Code: code, Message: apperr.UserMessage(err)})
}

func statusOf(code apperr.Code) int {
	switch code {
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.NotFound, apperr.UnknownUser:
		return http.StatusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.InsufficientFunds:
		return http.StatusUnprocessableEntity
	case apperr.Conflict, apperr.NoActiveFlow:
		return http.StatusConflict
	case apperr.ProviderError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
