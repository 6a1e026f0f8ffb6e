// Package remote is the request/response side of the messaging backend:
// directory resolution, message history and the recency index.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/zhouzirui/dmchat/internal/identity"
	"github.com/zhouzirui/dmchat/internal/model/chat"
)

// ResolveRequest looks a peer up by email or by id. Email wins when both are set.
type ResolveRequest struct {
	Email  string
	PeerID string
}

// Client calls the backend REST API with a fresh bearer token per request.
type Client struct {
	baseURL  string
	identity identity.Provider
	http     *http.Client
	logger   zerolog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a REST client for baseURL.
func NewClient(baseURL string, id identity.Provider, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: id,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "remote").Logger()
	return c
}

// Resolve maps an email or id to a canonical peer. It never returns the
// caller's own identity; that case is classified as CodeSelf.
func (c *Client) Resolve(ctx context.Context, req ResolveRequest) (chat.Peer, error) {
	me, ok := c.identity.UserID()
	if !ok {
		return chat.Peer{}, identity.ErrNotLoggedIn
	}

	email := strings.TrimSpace(req.Email)
	peerID := strings.TrimSpace(req.PeerID)

	query := url.Values{}
	switch {
	case email != "":
		query.Set("email", email)
	case peerID != "":
		if peerID == me {
			return chat.Peer{}, selfError()
		}
		query.Set("uid", peerID)
	default:
		return chat.Peer{}, &ResolveError{Code: CodeBadRequest, Message: "Provide email or uid"}
	}

	status, body, err := c.do(ctx, http.MethodGet, "/api/users/resolve", query)
	if err != nil {
		if isAuthError(err) {
			return chat.Peer{}, err
		}
		return chat.Peer{}, &ResolveError{Code: CodeResolveFailed, Message: "RESOLVE_FAILED", Err: err}
	}

	switch {
	case status == http.StatusOK:
		var peer chat.Peer
		if err := json.Unmarshal(body, &peer); err != nil || peer.ID == "" {
			return chat.Peer{}, &ResolveError{Code: CodeResolveFailed, Status: status, Message: "malformed resolve response", Err: err}
		}
		if peer.ID == me {
			return chat.Peer{}, selfError()
		}
		return peer, nil
	case status == http.StatusBadRequest:
		msg := gjson.GetBytes(body, "error").String()
		if strings.Contains(strings.ToLower(msg), "yourself") {
			return chat.Peer{}, selfError()
		}
		if msg == "" {
			msg = "Invalid request"
		}
		return chat.Peer{}, &ResolveError{Code: CodeBadRequest, Status: status, Message: msg}
	case status == http.StatusNotFound:
		return chat.Peer{}, &ResolveError{Code: CodeNotFound, Status: status, Message: "User not found"}
	default:
		return chat.Peer{}, &ResolveError{Code: CodeResolveFailed, Status: status, Message: "RESOLVE_FAILED"}
	}
}

// History returns up to limit recent messages with peerID in server order.
func (c *Client) History(ctx context.Context, peerID string, limit int) ([]chat.Message, error) {
	query := url.Values{}
	query.Set("withUser", strings.TrimSpace(peerID))
	query.Set("limit", strconv.Itoa(limit))

	var messages []chat.Message
	if err := c.getJSON(ctx, "/api/messages", query, &messages); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return messages, nil
}

// Recent returns the ranked conversation summaries of the current user.
func (c *Client) Recent(ctx context.Context, limit int) ([]chat.ConversationSummary, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var summaries []chat.ConversationSummary
	if err := c.getJSON(ctx, "/api/conversations/recent", query, &summaries); err != nil {
		return nil, fmt.Errorf("load recent conversations: %w", err)
	}
	return summaries, nil
}

// SyncMe upserts the current user's directory record.
func (c *Client) SyncMe(ctx context.Context) (chat.Peer, error) {
	status, body, err := c.do(ctx, http.MethodPut, "/api/users/me", nil)
	if err != nil {
		return chat.Peer{}, err
	}
	if status != http.StatusOK {
		return chat.Peer{}, fmt.Errorf("%w: sync user status %d", ErrRequestFailed, status)
	}

	var peer chat.Peer
	if err := json.Unmarshal(body, &peer); err != nil {
		return chat.Peer{}, fmt.Errorf("%w: decode sync response: %v", ErrRequestFailed, err)
	}
	return peer, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	status, body, err := c.do(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: %s status %d: %s", ErrRequestFailed, path, status, gjson.GetBytes(body, "error").String())
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrRequestFailed, path, err)
	}
	return nil
}

// do fetches a fresh token and performs the request. Token failures are
// returned unwrapped so callers can tell them apart from transport errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values) (int, []byte, error) {
	token, err := c.identity.Token(ctx)
	if err != nil {
		return 0, nil, authError{err: err}
	}
	if token == "" {
		return 0, nil, authError{err: identity.ErrNotLoggedIn}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %v", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s: %v", ErrRequestFailed, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("request completed")
	return resp.StatusCode, body, nil
}

type authError struct {
	err error
}

func (e authError) Error() string { return e.err.Error() }

func (e authError) Unwrap() error { return e.err }

func isAuthError(err error) bool {
	var target authError
	return errors.As(err, &target)
}

func selfError() *ResolveError {
	return &ResolveError{Code: CodeSelf, Status: http.StatusBadRequest, Message: "Cannot start conversation with yourself"}
}
