package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newRegistry(t *testing.T, h http.HandlerFunc) *HTTPLookup {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	lookup, err := NewHTTPLookup(discardLogger(), HTTPOptions{BaseURL: srv.URL + "/api/v1/", ServiceToken: "svc-token"})
	if err != nil {
		t.Fatalf("NewHTTPLookup() error = %v", err)
	}

	return lookup
}

func TestHTTPLookupGet(t *testing.T) {
	t.Parallel()

	lookup := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer svc-token" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer svc-token")
		}

		if r.URL.Path != "/api/v1/devices/sensor-42" {
			t.Errorf("path = %q, want /api/v1/devices/sensor-42", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"device_id": "sensor-42",
			"name": "greenhouse sensor",
			"device_type": "sensor",
			"status": "active",
			"owner_id": "owner-1",
			"latitude": "52.1",
			"location_name": "greenhouse",
			"api_key_hash": "ignored",
			"created_at": "2024-06-01T00:00:00Z",
			"thresholds": {"temperature": {"max": 30}}
		}`))
	})

	rec, err := lookup.Get(context.Background(), "sensor-42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if rec.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want owner-1", rec.OwnerID)
	}

	if rec.LocationName == nil || *rec.LocationName != "greenhouse" {
		t.Errorf("LocationName = %v, want greenhouse", rec.LocationName)
	}

	if th := rec.Thresholds["temperature"]; th.Max == nil || *th.Max != 30 || th.Min != nil {
		t.Errorf("Thresholds[temperature] = %+v, want max 30", th)
	}
}

func TestHTTPLookupStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		wantErr  error
		anyError bool
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: ErrNotFound},
		{name: "forbidden", status: http.StatusForbidden, anyError: true},
		{name: "server error", status: http.StatusInternalServerError, anyError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			lookup := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			})

			_, err := lookup.Get(context.Background(), "sensor-42")
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Get() error = %v, want %v", err, tt.wantErr)
			}

			if tt.anyError && err == nil {
				t.Error("Get() error = nil, want error")
			}

			if tt.anyError && errors.Is(err, ErrNotFound) {
				t.Errorf("Get() error = %v, want a non not-found error", err)
			}

			if got := calls.Load(); got != 1 {
				t.Errorf("registry calls = %d, want 1 with RetryMax 0", got)
			}
		})
	}
}

func TestHTTPLookupEscapesDeviceID(t *testing.T) {
	t.Parallel()

	lookup := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v1/devices/a%2Fb" {
			t.Errorf("escaped path = %q, want /api/v1/devices/a%%2Fb", r.URL.EscapedPath())
		}

		w.WriteHeader(http.StatusNotFound)
	})

	if _, err := lookup.Get(context.Background(), "a/b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestHTTPLookupPing(t *testing.T) {
	t.Parallel()

	lookup := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusOK)
	})

	if err := lookup.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v, want nil", err)
	}
}

func TestNewHTTPLookupRejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "registry:8000", "/devices"} {
		if _, err := NewHTTPLookup(discardLogger(), HTTPOptions{BaseURL: raw}); err == nil {
			t.Errorf("NewHTTPLookup(%q) error = nil, want error", raw)
		}
	}
}
