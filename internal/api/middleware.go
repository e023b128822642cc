/**
 * @description
 * This file contains custom middleware for the HTTP router. The admin
 * surface is protected by a shared internal API key; it is meant to sit
 * behind the platform gateway, never exposed to players directly.
 *
 * @dependencies
 * - crypto/subtle, net/http: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
)

const internalKeyHeader = "X-Internal-Api-Key"

// InternalAuthMiddleware creates a middleware that checks the shared
// internal API key on admin routes. An empty configured key disables the
// check, which is only acceptable in local development.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" {
				provided := r.Header.Get(internalKeyHeader)
				if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
