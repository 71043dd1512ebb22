package web

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestDocsApp(t *testing.T) {
	t.Parallel()

	app, err := DocsApp(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("DocsApp() error = %v", err)
	}

	r := chi.NewRouter()
	app.Register(r)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{path: "/docs/", wantCode: http.StatusOK, wantBody: "/api/docs/openapi.json"},
		{path: "/docs/index", wantCode: http.StatusOK, wantBody: "<html"},
		{path: "/docs", wantCode: http.StatusMovedPermanently},
		{path: "/docs/missing.js", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("GET %s code = %d, want %d", tt.path, rec.Code, tt.wantCode)
			}

			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("GET %s body does not contain %q", tt.path, tt.wantBody)
			}
		})
	}
}
