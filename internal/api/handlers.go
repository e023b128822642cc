/**
 * @description
 * HTTP handlers for the rewards-service: admin endpoints for the round
 * lifecycle and dispatch, and player-facing endpoints for reward summaries
 * and payout history.
 *
 * @dependencies
 * - net/http, encoding/json: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app: The core business logic service.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/blockquiz/rewards-service/internal/app"
	"github.com/blockquiz/rewards-service/internal/domain"
	"github.com/blockquiz/rewards-service/internal/store"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) handleOpenRound(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	round, err := h.service.OpenRound(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, round)
}

func (h *Handler) handleGetRound(w http.ResponseWriter, r *http.Request) {
	periodID, ok := periodIDParam(w, r)
	if !ok {
		return
	}
	round, err := h.service.GetRound(r.Context(), periodID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, round)
}

func (h *Handler) handlePreviewWinners(w http.ResponseWriter, r *http.Request) {
	periodID, ok := periodIDParam(w, r)
	if !ok {
		return
	}
	preview, err := h.service.PreviewWinners(r.Context(), periodID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleCloseRound(w http.ResponseWriter, r *http.Request) {
	periodID, ok := periodIDParam(w, r)
	if !ok {
		return
	}
	result, err := h.service.CloseRound(r.Context(), periodID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReplaceAllocations(w http.ResponseWriter, r *http.Request) {
	periodID, ok := periodIDParam(w, r)
	if !ok {
		return
	}
	var req domain.AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.PeriodID = periodID

	allocations, err := h.service.CreateAllocations(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, allocations)
}

func (h *Handler) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	periodID, ok := periodIDParam(w, r)
	if !ok {
		return
	}
	allocations, err := h.service.ListAllocations(r.Context(), periodID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, allocations)
}

func (h *Handler) handleFinalizeRound(w http.ResponseWriter, r *http.Request) {
	periodID, ok := periodIDParam(w, r)
	if !ok {
		return
	}
	var req domain.FinalizeRoundRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	req.PeriodID = periodID

	round, err := h.service.FinalizeRound(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, round)
}

func (h *Handler) handleDispatchRound(w http.ResponseWriter, r *http.Request) {
	periodID, ok := periodIDParam(w, r)
	if !ok {
		return
	}
	var req domain.DispatchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	// An absent mode defers to the service's configured default rather
	// than forcing custodial.
	var mode domain.PayoutMode
	if req.Mode != "" {
		mode = domain.NormalizeMode(req.Mode)
	}

	queued, err := h.service.EnqueueDispatch(r.Context(), periodID, mode)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"period_id": periodID,
		"queued":    queued,
	})
}

func (h *Handler) handleMarkPayout(w http.ResponseWriter, r *http.Request) {
	var req domain.MarkPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	allocation, err := h.service.MarkPayout(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, allocation)
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]int{"depth": h.service.QueueDepth()})
}

func (h *Handler) handleUserSummary(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := recipientIDParam(w, r)
	if !ok {
		return
	}
	periodID := domain.CurrentPeriodID()
	if raw := r.URL.Query().Get("period_id"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid period_id", http.StatusBadRequest)
			return
		}
		periodID = parsed
	}

	summary, err := h.service.UserSummary(r.Context(), periodID, recipientID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *Handler) handlePayoutHistory(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := recipientIDParam(w, r)
	if !ok {
		return
	}
	before, _ := strconv.Atoi(r.URL.Query().Get("before"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.service.PayoutHistory(r.Context(), recipientID, before, limit)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}

func (h *Handler) handlePolicy(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.Policy())
}

func periodIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	periodID, err := strconv.Atoi(chi.URLParam(r, "periodID"))
	if err != nil || periodID <= 0 {
		http.Error(w, "Invalid period id", http.StatusBadRequest)
		return 0, false
	}
	return periodID, true
}

func recipientIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	recipientID, err := uuid.Parse(chi.URLParam(r, "recipientID"))
	if err != nil {
		http.Error(w, "Invalid recipient id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return recipientID, true
}

// respondWithServiceError maps service errors to HTTP status codes.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrRoundNotFound), errors.Is(err, store.ErrAllocationNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrRoundExists), errors.Is(err, app.ErrRoundDispatched), errors.Is(err, app.ErrRoundFinalized):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("level=error component=api path=%s err=%v", r.URL.Path, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
