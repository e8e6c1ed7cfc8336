package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"memo-sync/internal/domain"
	"memo-sync/internal/websocket"
)

// FeedURL is the change feed endpoint: the API base with its scheme switched
// to ws/wss and its trailing /api replaced by /ws.
func (c *Client) FeedURL() (string, error) {
	if c.feedURL != "" {
		return c.feedURL, nil
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/api") + "/ws"
	return u.String(), nil
}

// Subscribe streams change notifications to onEvent until ctx is cancelled
// or the connection drops. It returns ctx.Err() on cancellation.
func (c *Client) Subscribe(ctx context.Context, onEvent func(domain.NoteEvent)) error {
	token := c.creds.GetToken()
	if token == "" {
		return domain.ErrNotAuthenticated
	}

	feed, err := c.FeedURL()
	if err != nil {
		return err
	}
	u, _ := url.Parse(feed)
	q := u.Query()
	q.Set("token", token)
	if c.deviceID != "" {
		q.Set("device_id", c.deviceID)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := ws.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &domain.AuthError{Op: "subscribe", Status: resp.StatusCode}
		}
		return &domain.ConnectivityError{Op: "subscribe", Err: err}
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg websocket.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &domain.ConnectivityError{Op: "subscribe", Err: err}
		}

		if msg.Type != websocket.TypeNoteUpdate {
			continue
		}
		var ev domain.NoteEvent
		if err := msg.UnmarshalPayload(&ev); err != nil {
			c.logger.Debug("malformed feed message", zap.Error(err))
			continue
		}
		onEvent(ev)
	}
}

// IsFeedClosed reports whether err only signals a cancelled subscription.
func IsFeedClosed(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
