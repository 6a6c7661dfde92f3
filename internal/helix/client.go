// Package helix is a minimal Helix REST client: subscription registration
// and user lookup.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
	"github.com/brooks-builds/twitch-eventsub/internal/protocol"
)

const DefaultBaseURL = "https://api.twitch.tv/helix"

var ErrUserNotFound = errors.New("helix: user not found")

// APIError is a non-success Helix response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// Client makes authenticated Helix calls.
type Client struct {
	baseURL  string
	clientID string
	token    string
	client   *http.Client
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL, clientID, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type createSubscriptionRequest struct {
	Type      string             `json:"type"`
	Version   string             `json:"version"`
	Condition map[string]string  `json:"condition"`
	Transport protocol.Transport `json:"transport"`
}

// Register sends POST /eventsub/subscriptions binding req to the websocket
// session. A 409 means the subscription already exists for this transport,
// which happens after a migration, and counts as success.
func (c *Client) Register(ctx context.Context, req events.SubscriptionRequest, sessionID string) error {
	body := createSubscriptionRequest{
		Type:      string(req.Type),
		Version:   req.Version,
		Condition: req.Condition(),
		Transport: protocol.Transport{Method: "websocket", SessionID: sessionID},
	}
	err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", body, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		return nil
	}
	return err
}

// User is a Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// UserByLogin resolves a login name to its user record.
func (c *Client) UserByLogin(ctx context.Context, login string) (*User, error) {
	var out struct {
		Data []User `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/users?login="+url.QueryEscape(login), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	return &out.Data[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	c.setAuth(req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return newAPIError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newAPIError(method, path string, resp *http.Response) *APIError {
	e := &APIError{Method: method, Path: path, Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		e.Message = body.Message
	} else {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.clientID != "" {
		req.Header.Set("Client-Id", c.clientID)
	}
}
