// Package remote talks to the sync server's JSON API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"memo-sync/internal/credential"
	"memo-sync/internal/domain"
	"memo-sync/pkg/logger"
)

const (
	DeviceIDHeader = "X-Device-ID"

	maxErrorBody = 4 << 10
)

type Client struct {
	baseURL  string
	feedURL  string
	http     *http.Client
	creds    credential.Provider
	deviceID string
	logger   *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithDeviceID tags pushes and the change feed subscription so the server
// does not echo a device's own changes back to it.
func WithDeviceID(id string) Option {
	return func(c *Client) { c.deviceID = id }
}

// WithFeedURL overrides the websocket endpoint derived from the base URL.
func WithFeedURL(u string) Option {
	return func(c *Client) { c.feedURL = u }
}

func WithLogger(lg *zap.Logger) Option {
	return func(c *Client) { c.logger = logger.OrNop(lg) }
}

// New returns a client for the API rooted at baseURL, e.g.
// http://localhost:3000/api.
func New(baseURL string, creds credential.Provider, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		creds:   creds,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges admin credentials for a token. It does not store the token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp domain.LoginResponse
	status, err := c.do(ctx, "login", http.MethodPost, "/login", false,
		domain.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		if status == http.StatusUnauthorized {
			return "", domain.ErrInvalidCredentials
		}
		return "", err
	}
	return resp.Token, nil
}

// Ping is the authenticated liveness probe.
func (c *Client) Ping(ctx context.Context) error {
	var resp domain.PingResponse
	_, err := c.do(ctx, "ping", http.MethodGet, "/ping", true, nil, &resp)
	return err
}

// FetchNotes returns every remote note, tombstones included.
func (c *Client) FetchNotes(ctx context.Context) ([]*domain.Note, error) {
	var notes []*domain.Note
	if _, err := c.do(ctx, "fetch notes", http.MethodGet, "/notes", true, nil, &notes); err != nil {
		return nil, err
	}
	for _, n := range notes {
		n.Normalize()
		n.SyncStatus = ""
	}
	return notes, nil
}

func (c *Client) FetchStats(ctx context.Context) (*domain.Stats, error) {
	var stats domain.Stats
	if _, err := c.do(ctx, "fetch stats", http.MethodGet, "/stats", true, nil, &stats); err != nil {
		return nil, err
	}
	if stats.ActivityData == nil {
		stats.ActivityData = []domain.ActivityData{}
	}
	return &stats, nil
}

// PushNote sends a snapshot of note. A stale push yields a
// *domain.ConflictError carrying the server's record.
func (c *Client) PushNote(ctx context.Context, note *domain.Note) error {
	status, err := c.do(ctx, "push note", http.MethodPost, "/notes/sync", true, note.Snapshot(), nil)
	if err == nil {
		return nil
	}

	var se *statusError
	var conflict domain.SyncConflictResponse
	if status == http.StatusConflict && errors.As(err, &se) {
		if jerr := json.Unmarshal(se.body, &conflict); jerr != nil || conflict.ServerVersion == nil {
			return fmt.Errorf("push note: malformed conflict body: %w", err)
		}
		conflict.ServerVersion.Normalize()
		conflict.ServerVersion.SyncStatus = ""
		return &domain.ConflictError{ServerNote: conflict.ServerVersion}
	}
	return err
}

// statusError is an unexpected non-2xx answer that is neither an auth nor a
// connectivity failure.
type statusError struct {
	op     string
	status int
	body   []byte
}

func (e *statusError) Error() string {
	msg := strings.TrimSpace(string(e.body))
	var eb struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(e.body, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	if msg == "" {
		return fmt.Sprintf("%s: status %d", e.op, e.status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.op, e.status, msg)
}

func (c *Client) do(ctx context.Context, op, method, path string, auth bool, in, out interface{}) (int, error) {
	var token string
	if auth {
		token = c.creds.GetToken()
		if token == "" {
			return 0, domain.ErrNotAuthenticated
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.deviceID != "" {
		req.Header.Set(DeviceIDHeader, c.deviceID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &domain.ConnectivityError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("remote call",
		zap.String(logger.FieldAction, op),
		zap.Int(logger.FieldHTTPStatus, resp.StatusCode),
		zap.Duration(logger.FieldDuration, time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		if !auth {
			return resp.StatusCode, &statusError{op: op, status: resp.StatusCode}
		}
		return resp.StatusCode, &domain.AuthError{Op: op, Status: resp.StatusCode}

	case resp.StatusCode >= http.StatusInternalServerError:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &domain.ConnectivityError{Op: op, Status: resp.StatusCode}

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &statusError{op: op, status: resp.StatusCode, body: data}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, &domain.ConnectivityError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp.StatusCode, nil
}
