package chi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerAuth_DisabledWithoutKeys(t *testing.T) {
	h := BearerAuthMiddleware(nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/search", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected pass-through without keys, got %d", rec.Code)
	}
}

func TestBearerAuth_ValidKey(t *testing.T) {
	h := BearerAuthMiddleware([]string{"secret"})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/search", nil)
	req.Header.Set("Authorization", "Bearer secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for valid key, got %d", rec.Code)
	}
}

func TestBearerAuth_Rejections(t *testing.T) {
	h := BearerAuthMiddleware([]string{"secret"})(okHandler())

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic secret"},
		{"wrong key", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/search", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestBearerAuth_ExemptPaths(t *testing.T) {
	h := BearerAuthMiddleware([]string{"secret"})(okHandler())

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected %s to bypass auth, got %d", path, rec.Code)
		}
	}
}
