// Package oa provides the Go client SDK for overhearing-agents session
// servers: the out-of-band snapshot/saves API, and live session clients that
// mirror the server's agent tree from the websocket event stream.
package oa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/overhearing/oa-go/pkg/core"
	"github.com/overhearing/oa-go/pkg/core/types"
)

const defaultBaseURL = "http://127.0.0.1:8000"

// Client is the entry point for the SDK. It talks to one server; live
// sessions are opened per session id with Client.Session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxReconnectAttempts int
}

// NewClient creates a new client for the server at the configured base URL
// (default http://127.0.0.1:8000).
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:              defaultBaseURL,
		logger:               slog.Default(),
		maxReconnectAttempts: defaultMaxReconnectAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	c.baseURL = strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	return c
}

// ListSessions lists the interactive sessions currently loaded by the server.
func (c *Client) ListSessions(ctx context.Context) ([]types.SessionMeta, error) {
	var out []types.SessionMeta
	if err := c.doJSON(ctx, http.MethodGet, "/api/states", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession creates a fresh interactive session, optionally with a first
// user message, and returns its initial snapshot.
func (c *Client) CreateSession(ctx context.Context, startContent string) (*types.SessionState, error) {
	body := map[string]any{}
	if strings.TrimSpace(startContent) != "" {
		body["start_content"] = startContent
	}
	var out types.SessionState
	if err := c.doJSON(ctx, http.MethodPost, "/api/states", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSessionState fetches the full snapshot of an interactive session.
//
// A missing session yields a *core.Error with type core.ErrNotFound, so
// callers can redirect to a read-only replay of the save instead.
func (c *Client) GetSessionState(ctx context.Context, sessionID string) (*types.SessionState, error) {
	var out types.SessionState
	if err := c.doJSON(ctx, http.MethodGet, "/api/states/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSaves lists the saved sessions the server is configured to see.
func (c *Client) ListSaves(ctx context.Context) ([]types.SaveMeta, error) {
	var out []types.SaveMeta
	if err := c.doJSON(ctx, http.MethodGet, "/api/saves", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSaveState fetches the final snapshot of a saved session.
func (c *Client) GetSaveState(ctx context.Context, saveID string) (*types.SessionState, error) {
	var out types.SessionState
	if err := c.doJSON(ctx, http.MethodGet, "/api/saves/"+url.PathEscape(saveID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSaveEvents fetches the full event log of a saved session, decoded
// through the same tagged union as the live stream. Unrecognized tags come
// back as types.UnknownEvent; individually malformed records are skipped
// with a warning.
func (c *Client) GetSaveEvents(ctx context.Context, saveID string) ([]types.ServerEvent, error) {
	var raw []json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/saves/"+url.PathEscape(saveID)+"/events", nil, &raw); err != nil {
		return nil, err
	}
	events := make([]types.ServerEvent, 0, len(raw))
	for i, record := range raw {
		ev, err := types.UnmarshalServerEvent(record)
		if err != nil {
			c.logger.Warn("skipping malformed saved event", "save_id", saveID, "index", i, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// DeleteSave deletes a saved session on the server.
func (c *Client) DeleteSave(ctx context.Context, saveID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/saves/"+url.PathEscape(saveID), nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	endpoint := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return core.NewInvalidRequestError(fmt.Sprintf("encode request body: %v", err))
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return core.NewInvalidRequestError(fmt.Sprintf("build request: %v", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return core.NewNotFoundError(fmt.Sprintf("%s %s: not found", method, path))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return core.NewAPIError(fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.NewAPIError(fmt.Sprintf("%s %s: decode response: %v", method, path, err))
	}
	return nil
}

// websocketURL resolves the event stream endpoint for one session id.
func (c *Client) websocketURL(sessionID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", core.NewInvalidRequestError("invalid base URL")
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket scheme.
	default:
		return "", core.NewInvalidRequestError("base URL must use http(s) or ws(s)")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws/" + url.PathEscape(sessionID)
	return u.String(), nil
}
