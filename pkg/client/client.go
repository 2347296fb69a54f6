// Package client is a Go client for the sessiond control surface.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/salestroopz/sessiond"
)

// Client talks to a running session over its local control API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string // host:port or full URL; defaults to the local control address
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8716",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	base := config.BaseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}
}

// IsReachable reports whether a session answers on the control API.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Healthz(ctx)
	c.logger.Debug("Session reachability check", "reachable", err == nil, "error", err)
	return err == nil
}

// Healthz returns the supervisor state name.
func (c *Client) Healthz(ctx context.Context) (string, error) {
	var body struct {
		OK    bool   `json:"ok"`
		State string `json:"state"`
	}
	if err := c.getJSON(ctx, "/healthz", &body); err != nil {
		return "", err
	}
	return body.State, nil
}

func (c *Client) Status(ctx context.Context) (sessiond.Snapshot, error) {
	var snap sessiond.Snapshot
	err := c.getJSON(ctx, "/status", &snap)
	return snap, err
}

// History returns up to limit recent lifecycle events, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]sessiond.HistoryEvent, error) {
	var events []sessiond.HistoryEvent
	err := c.getJSON(ctx, "/history?limit="+strconv.Itoa(limit), &events)
	return events, err
}

// Quit asks the session to shut down. It returns once the request is accepted.
func (c *Client) Quit(ctx context.Context) error {
	c.logger.Debug("Requesting shutdown")
	return c.post(ctx, "/quit", http.StatusAccepted)
}

// Activate restarts whatever is not running.
func (c *Client) Activate(ctx context.Context) error {
	return c.post(ctx, "/activate", http.StatusOK)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("session not reachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(ctx context.Context, path string, want int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("session not reachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != want {
		return c.handleErrorResponse(resp)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("API error: %s", resp.Status)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
