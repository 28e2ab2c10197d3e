package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := CORS([]string{"https://Admin.example"})(next)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin, case folded", http.MethodGet, "https://admin.example", http.StatusTeapot, "https://admin.example"},
		{"foreign origin", http.MethodGet, "https://evil.example", http.StatusTeapot, ""},
		{"no origin", http.MethodGet, "", http.StatusTeapot, ""},
		{"preflight", http.MethodOptions, "https://admin.example", http.StatusNoContent, "https://admin.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/contests/c1", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.origin != "" {
				assert.Equal(t, "Origin", rec.Header().Get("Vary"))
			}
		})
	}
}
