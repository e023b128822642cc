package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInternalAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := InternalAuthMiddleware("secret-key")(next)

	tests := []struct {
		name     string
		key      string
		wantCode int
	}{
		{name: "missing key", key: "", wantCode: http.StatusUnauthorized},
		{name: "wrong key", key: "other-key", wantCode: http.StatusUnauthorized},
		{name: "valid key", key: "secret-key", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin/queue", nil)
			if tt.key != "" {
				req.Header.Set(internalKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestInternalAuthMiddleware_EmptyKeyDisablesCheck(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	open := InternalAuthMiddleware("")(next)

	req := httptest.NewRequest("GET", "/admin/queue", nil)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no key configured", rec.Code)
	}
}

func TestRouter_RejectsMalformedParams(t *testing.T) {
	// Param validation happens before the service is touched, so a bare
	// handler is enough here.
	router := RewardRoutes(NewHandler(nil), "")

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "non-numeric period", method: "GET", path: "/admin/rounds/not-a-period"},
		{name: "negative period", method: "POST", path: "/admin/rounds/-3/close"},
		{name: "non-uuid recipient", method: "GET", path: "/rewards/users/42/summary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := RewardRoutes(NewHandler(nil), "secret")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "healthy" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
