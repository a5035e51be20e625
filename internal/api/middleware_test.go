package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func authProbe(t *testing.T, apiKey string, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := APIKeyAuth(apiKey)(next)

	req := httptest.NewRequest("GET", "/api/jobs", nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyAuth(t *testing.T) {
	// Correct key in X-API-Key.
	rec := authProbe(t, "secret", func(r *http.Request) {
		r.Header.Set("X-API-Key", "secret")
	})
	if rec.Code != http.StatusNoContent {
		t.Errorf("valid key rejected with %d", rec.Code)
	}

	// Correct key as a bearer token.
	rec = authProbe(t, "secret", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer secret")
	})
	if rec.Code != http.StatusNoContent {
		t.Errorf("valid bearer token rejected with %d", rec.Code)
	}

	// Wrong key.
	rec = authProbe(t, "secret", func(r *http.Request) {
		r.Header.Set("X-API-Key", "wrong")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key accepted with %d", rec.Code)
	}

	// Missing key.
	rec = authProbe(t, "secret", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key accepted with %d", rec.Code)
	}

	// Empty configured key disables auth.
	rec = authProbe(t, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("dev mode rejected request with %d", rec.Code)
	}
}
