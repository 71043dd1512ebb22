package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultTimeout bounds a whole lookup, retries included.
	DefaultTimeout = 5 * time.Second
	maxRecordSize  = 1 << 20
)

// HTTPLookup reads devices from the registry service's REST API.
type HTTPLookup struct {
	baseURL *url.URL
	token   string
	timeout time.Duration
	client  *retryablehttp.Client
}

// HTTPOptions configures HTTPLookup.
type HTTPOptions struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
	// RetryMax is the number of retries after the first attempt on
	// connection errors and 5xx responses.
	RetryMax int
}

func NewHTTPLookup(l *slog.Logger, opts HTTPOptions) (*HTTPLookup, error) {
	u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid registry url %q", opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = l.With(slog.String("component", "registry-client"))

	return &HTTPLookup{
		baseURL: u,
		token:   opts.ServiceToken,
		timeout: opts.Timeout,
		client:  client,
	}, nil
}

// Get fetches GET {base}/devices/{id}. A 404 is ErrNotFound.
func (h *HTTPLookup) Get(ctx context.Context, deviceID string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp, err := h.get(ctx, h.baseURL.JoinPath("devices", url.PathEscape(deviceID)).String())
	if err != nil {
		return Record{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Record{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return Record{}, fmt.Errorf("registry returned %s", resp.Status)
	}

	var rec Record
	// The registry returns more fields than Record has.
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRecordSize)).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode registry response: %w", err)
	}

	if rec.DeviceID == "" {
		rec.DeviceID = deviceID
	}

	return rec, nil
}

// Ping checks that the registry answers its health endpoint.
func (h *HTTPLookup) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp, err := h.get(ctx, h.baseURL.JoinPath("health").String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("registry health returned %s", resp.Status)
	}

	return nil
}

func (h *HTTPLookup) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}

	return resp, nil
}
