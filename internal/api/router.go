/**
 * @description
 * This file sets up the HTTP router for the rewards-service. It defines
 * the API endpoints, associates them with their corresponding handlers,
 * and applies middleware for logging, panic recovery, timeouts, and
 * internal authentication on the admin surface.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RewardRoutes creates and returns the router for the rewards service.
func RewardRoutes(h *Handler, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Player-facing read endpoints.
	r.Get("/rewards/policy", h.handlePolicy)
	r.Get("/rewards/users/{recipientID}/summary", h.handleUserSummary)
	r.Get("/rewards/users/{recipientID}/payouts", h.handlePayoutHistory)

	// Admin endpoints, protected by the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/admin/rounds", h.handleOpenRound)
		r.Get("/admin/rounds/{periodID}", h.handleGetRound)
		r.Get("/admin/rounds/{periodID}/preview", h.handlePreviewWinners)
		r.Post("/admin/rounds/{periodID}/close", h.handleCloseRound)
		r.Get("/admin/rounds/{periodID}/allocations", h.handleListAllocations)
		r.Put("/admin/rounds/{periodID}/allocations", h.handleReplaceAllocations)
		r.Post("/admin/rounds/{periodID}/finalize", h.handleFinalizeRound)
		r.Post("/admin/rounds/{periodID}/dispatch", h.handleDispatchRound)
		r.Post("/admin/payouts/mark", h.handleMarkPayout)
		r.Get("/admin/queue", h.handleQueueStatus)
	})

	return r
}
