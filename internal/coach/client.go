// Package coach performs the request/response exchange with the coaching backend.
package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

const (
	// DefaultBaseURL is the backend root used when none is configured.
	DefaultBaseURL = "http://localhost:8080"
	// TodayPath is the turn endpoint relative to the base URL.
	TodayPath = "/api/coach/today"
	// DefaultTimeout bounds a single exchange so a stuck request cannot wedge a session.
	DefaultTimeout = 12 * time.Second
	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes = 64 << 10
	// DeviceIDHeader identifies the caller to the backend's turn ledger.
	DeviceIDHeader = "X-Device-ID"
)

// Opts holds configuration for the Client.
type Opts struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	DeviceID   string
}

// Option configures a Client.
type Option func(*Opts)

// WithBaseURL sets the backend root URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient supplies the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithDeviceID sets the device identifier sent with each turn.
func WithDeviceID(id string) Option {
	return func(o *Opts) { o.DeviceID = id }
}

// Client sends turns to the coaching backend. It never retries.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	deviceID string
}

// NewClient creates a Client from the given options.
func NewClient(opts ...Option) *Client {
	cfg := Opts{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + TodayPath
	slog.Debug("coach.NewClient", "endpoint", endpoint, "timeout", cfg.Timeout, "device_id_set", cfg.DeviceID != "")
	return &Client{endpoint: endpoint, timeout: cfg.Timeout, http: cfg.HTTPClient, deviceID: cfg.DeviceID}
}

// Endpoint returns the URL turns are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SendTurn posts req and decodes the backend's TurnResponse. Every failure is an *Error.
func (c *Client) SendTurn(ctx context.Context, req models.TurnRequest) (models.TurnResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.TurnResponse{}, fmt.Errorf("coach: encode turn request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.TurnResponse{}, TransportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.deviceID != "" {
		httpReq.Header.Set(DeviceIDHeader, c.deviceID)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Warn("Client.SendTurn: transport failure", "error", err, "elapsed", time.Since(start))
		return models.TurnResponse{}, TransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		slog.Warn("Client.SendTurn: failed reading body", "error", err, "status", resp.StatusCode)
		return models.TurnResponse{}, TransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("Client.SendTurn: backend rejected turn", "status", resp.StatusCode, "elapsed", time.Since(start))
		return models.TurnResponse{}, HTTPError(resp.StatusCode, string(data))
	}

	turn, err := models.DecodeTurnResponse(data)
	if err != nil {
		slog.Warn("Client.SendTurn: malformed response", "error", err)
		return models.TurnResponse{}, DecodeError(err)
	}
	slog.Debug("Client.SendTurn: turn received", "turn_id", turn.TurnID, "widgets", len(turn.Widgets), "actions", len(turn.Actions), "elapsed", time.Since(start))
	return turn, nil
}
